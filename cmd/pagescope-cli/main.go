package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"pagescope/internal/api"
	"pagescope/internal/util"
	"pagescope/pkg/pagescope"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: pagescope-cli [-server URL] [-grpc ADDR] <command> [args]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version                   Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  range                     Show the shared date range\n")
	fmt.Fprintf(os.Stderr, "  set-range START END       Publish an explicit range (YYYY-MM-DD)\n")
	fmt.Fprintf(os.Stderr, "  clear-range               Reset the shared range to all time\n")
	fmt.Fprintf(os.Stderr, "  watch                     Stream committed range changes (gRPC)\n")
	fmt.Fprintf(os.Stderr, "  charts                    List charts\n")
	fmt.Fprintf(os.Stderr, "  zoom CHART DELTA [PTR]    Zoom a chart by DELTA steps\n")
	fmt.Fprintf(os.Stderr, "  pan CHART left|right      Pan a chart one step\n")
	fmt.Fprintf(os.Stderr, "  reset CHART               Reset a chart to its default view\n")
	fmt.Fprintf(os.Stderr, "  summary [SORT]            Summary metrics over the current range\n")
	fmt.Fprintf(os.Stderr, "  datasets                  List datasets\n")
	fmt.Fprintf(os.Stderr, "  load NAME                 Switch every chart to a dataset\n")
	fmt.Fprintf(os.Stderr, "\nFlags:\n")
	flag.PrintDefaults()
}

func main() {
	serverURL := flag.String("server", envOr("PAGESCOPE_URL", "http://127.0.0.1:8080"), "pagescope-server HTTP base URL")
	grpcAddr := flag.String("grpc", envOr("PAGESCOPE_GRPC_ADDR", "127.0.0.1:9090"), "pagescope-server gRPC address")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := pagescope.NewClient(*serverURL)
	cmd, rest := args[0], args[1:]

	var err error
	switch cmd {
	case "version":
		fmt.Printf("pagescope-cli %s\n", version)

	case "range":
		var rr *pagescope.RangeResponse
		if rr, err = c.GetRange(ctx); err == nil {
			printRange(rr)
		}

	case "set-range":
		if err = need(rest, 2); err != nil {
			break
		}
		var rr *pagescope.RangeResponse
		if rr, err = c.SetRange(ctx, rest[0], rest[1]); err == nil {
			printRange(rr)
		}

	case "clear-range":
		var rr *pagescope.RangeResponse
		if rr, err = c.ClearRange(ctx); err == nil {
			printRange(rr)
		}

	case "watch":
		err = watch(ctx, *grpcAddr)

	case "charts":
		var list *pagescope.ChartsResponse
		if list, err = c.Charts(ctx); err == nil {
			for _, id := range list.Charts {
				marker := " "
				if id == list.Active {
					marker = "*"
				}
				fmt.Printf("%s %s\n", marker, id)
			}
		}

	case "zoom":
		if err = need(rest, 2); err != nil {
			break
		}
		var delta float64
		if delta, err = strconv.ParseFloat(rest[1], 64); err != nil {
			break
		}
		var ptr *float64
		if len(rest) > 2 {
			p, perr := strconv.ParseFloat(rest[2], 64)
			if perr != nil {
				err = perr
				break
			}
			ptr = &p
		}
		var chart *pagescope.ChartResponse
		if chart, err = c.Zoom(ctx, rest[0], delta, ptr); err == nil {
			printChart(chart)
		}

	case "pan":
		if err = need(rest, 2); err != nil {
			break
		}
		var moved bool
		if moved, err = c.Pan(ctx, rest[0], rest[1]); err == nil {
			fmt.Printf("moved: %v\n", moved)
		}

	case "reset":
		if err = need(rest, 1); err != nil {
			break
		}
		var chart *pagescope.ChartResponse
		if chart, err = c.Reset(ctx, rest[0]); err == nil {
			printChart(chart)
		}

	case "summary":
		mode := 0
		if len(rest) > 0 {
			if mode, err = strconv.Atoi(rest[0]); err != nil {
				break
			}
		}
		var s *pagescope.SummaryResponse
		if s, err = c.Summary(ctx, mode); err == nil {
			fmt.Printf("%s  (%d days, sort: %s)\n", s.Range, s.Points, s.SortLabel)
			for _, m := range s.Metrics {
				fmt.Printf("  %-12s %10s %8s\n", m.Metric, m.Formatted, m.Change)
			}
		}

	case "datasets":
		var ds *pagescope.DatasetsResponse
		if ds, err = c.Datasets(ctx); err == nil {
			for _, name := range ds.Datasets {
				marker := " "
				if name == ds.Active {
					marker = "*"
				}
				fmt.Printf("%s %s\n", marker, name)
			}
		}

	case "load":
		if err = need(rest, 1); err == nil {
			err = c.LoadDataset(ctx, rest[0])
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		flag.Usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func need(args []string, n int) error {
	if len(args) < n {
		return fmt.Errorf("expected %d argument(s), got %d", n, len(args))
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printRange(rr *pagescope.RangeResponse) {
	fmt.Printf("current:   %s\n", rr.Current.Label)
	fmt.Printf("committed: %s\n", rr.Committed.Label)
	fmt.Printf("phase:     %s\n", rr.Phase)
}

func printChart(c *pagescope.ChartResponse) {
	fmt.Printf("%s  zoom %.2fx  [%d, %d) of %d", c.ID, c.ZoomLevel, c.VisibleStart, c.VisibleEnd, c.Length)
	if c.Range != nil {
		fmt.Printf("  %s", c.Range.Label)
	}
	fmt.Println()
}

func watch(ctx context.Context, addr string) error {
	client, err := api.NewClient(addr, util.Discard())
	if err != nil {
		return err
	}
	defer client.Close()

	return client.Watch(ctx, func(u api.Update) {
		label := u.Range.String()
		if u.Source != "" {
			fmt.Printf("%-8s %-24s from %s\n", u.Origin, label, u.Source)
			return
		}
		fmt.Printf("%-8s %s\n", u.Origin, label)
	})
}

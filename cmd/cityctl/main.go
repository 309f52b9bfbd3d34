// Command cityctl drives a running citysim server from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/talgya/city-tycoon/internal/client"
)

const usage = `usage: cityctl [-api URL] <command> [args]

commands:
  status                  show money, population, happiness and energy
  grid                    draw the city grid
  catalog                 list building types
  place X Y [BUILDING]    build at (X, Y); BUILDING defaults to the selected type
  demolish X Y            remove the building at (X, Y)
  select BUILDING         choose the building type used by place
  pause                   pause or resume the simulation
  reset                   start a new city
  save | load             save or load the city on the server
  speed MULTIPLIER        change the tick speed (needs CITYSIM_ADMIN_KEY)
  watch                   follow live events until interrupted
`

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	apiURL := flag.String("api", envOrDefault("CITYSIM_API_URL", "http://localhost:8080"), "citysim API base URL")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*apiURL, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "cityctl:", err)
		os.Exit(1)
	}
}

func run(apiURL, cmd string, args []string) error {
	obs := client.NewObserver(apiURL)
	act := client.NewActor(apiURL, os.Getenv("CITYSIM_ADMIN_KEY"))

	switch cmd {
	case "status":
		st, err := obs.Status()
		if err != nil {
			return err
		}
		fmt.Printf("Money: %s  Pop: %d  Happy: %.0f%%  Energy: %d\n",
			st.MoneyDisplay, st.Population, st.Happiness*100, st.Energy)
		state := "running"
		if !st.Running {
			state = "paused"
		}
		fmt.Printf("Tick %d, %s, %d buildings, selected %s, speed %gx\n",
			st.Tick, state, st.Buildings, st.SelectedName, st.Speed)
		if st.Status != "" {
			fmt.Println(st.Status)
		}
		return nil

	case "grid":
		cat, err := obs.Catalog()
		if err != nil {
			return err
		}
		g, err := obs.Grid()
		if err != nil {
			return err
		}
		fmt.Print(g.Render(cat))
		return nil

	case "catalog":
		cat, err := obs.Catalog()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tCOST\tINCOME\tUPKEEP\tPOP\tENERGY\tHAPPY")
		for _, b := range cat {
			fmt.Fprintf(tw, "%d\t%s\t$%s\t%d\t%d\t%+d\t%+d\t%+.2f\n",
				b.ID, b.Name, humanize.Comma(int64(b.Cost)), b.Income, b.Upkeep, b.Pop, b.Energy, b.Happiness)
		}
		return tw.Flush()

	case "place":
		if len(args) < 2 || len(args) > 3 {
			return fmt.Errorf("place needs X Y [BUILDING]")
		}
		x, y, err := coords(args)
		if err != nil {
			return err
		}
		building := 0
		if len(args) == 3 {
			if building, err = strconv.Atoi(args[2]); err != nil {
				return fmt.Errorf("building: %w", err)
			}
		}
		return report(act.Place(x, y, building))

	case "demolish":
		if len(args) != 2 {
			return fmt.Errorf("demolish needs X Y")
		}
		x, y, err := coords(args)
		if err != nil {
			return err
		}
		return report(act.Demolish(x, y))

	case "select":
		if len(args) != 1 {
			return fmt.Errorf("select needs BUILDING")
		}
		building, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("building: %w", err)
		}
		return report(act.Select(building))

	case "pause":
		return report(act.TogglePause())
	case "reset":
		return report(act.Reset())
	case "save":
		return report(act.Save())
	case "load":
		return report(act.Load())

	case "speed":
		if len(args) != 1 {
			return fmt.Errorf("speed needs MULTIPLIER")
		}
		v, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("speed: %w", err)
		}
		got, err := act.SetSpeed(v)
		if err != nil {
			return err
		}
		fmt.Printf("speed %gx\n", got)
		return nil

	case "watch":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return obs.Watch(ctx, func(ev client.StreamEvent) {
			switch {
			case ev.Event != nil:
				fmt.Printf("[%d] %-8s %s\n", ev.Event.Tick, ev.Event.Kind, ev.Event.Message)
			case ev.Error != "":
				fmt.Println("error:", ev.Error)
			}
		})

	default:
		return fmt.Errorf("unknown command %q (run cityctl -h)", cmd)
	}
}

func coords(args []string) (int, int, error) {
	x, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, 0, fmt.Errorf("x: %w", err)
	}
	y, err := strconv.Atoi(args[1])
	if err != nil {
		return 0, 0, fmt.Errorf("y: %w", err)
	}
	return x, y, nil
}

// report prints an action outcome. Rejected actions exit non-zero.
func report(res *client.Result, err error) error {
	if err != nil {
		return err
	}
	fmt.Println(res.Message)
	if !res.OK {
		return fmt.Errorf("rejected")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

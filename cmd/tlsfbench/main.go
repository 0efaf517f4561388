// Command tlsfbench drives the heap and timer packages end to end so
// their behavior can be inspected manually outside of the test suite:
// fragmentation/coalesce patterns under repeated alloc/free churn, and a
// timer scheduler dispatching callbacks against a synthetic tick source.
package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/urfave/cli.v1"

	"tlsfrt/heap"
	"tlsfrt/tick"
	"tlsfrt/timer"
)

func main() {
	app := cli.NewApp()
	app.Name = "tlsfbench"
	app.Usage = "exercise the TLSF heap and timer scheduler"
	app.Version = "0.1.0"

	app.Flags = []cli.Flag{
		cli.IntFlag{
			Name:  "heap-size",
			Value: heap.DefaultSize,
			Usage: "bytes of backing slab for the heap facade",
		},
		cli.BoolFlag{
			Name:  "verbose",
			Usage: "log at debug level",
		},
	}

	app.Commands = []cli.Command{
		churnCommand,
		timersCommand,
	}

	app.Before = func(c *cli.Context) error {
		if c.GlobalBool("verbose") {
			log.Root().SetHandler(log.LvlFilterHandler(log.LvlDebug, log.StreamHandler(os.Stdout, log.TerminalFormat(false))))
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var churnCommand = cli.Command{
	Name:  "churn",
	Usage: "allocate and free a mix of block sizes, reporting fragmentation before/after",
	Flags: []cli.Flag{
		cli.IntFlag{Name: "rounds", Value: 1000, Usage: "alloc/free cycles to run"},
	},
	Action: func(c *cli.Context) error {
		h, err := heap.New(heap.WithSize(c.GlobalInt("heap-size")))
		if err != nil {
			return err
		}

		rounds := c.Int("rounds")
		var live [][]byte
		for i := 0; i < rounds; i++ {
			size := 8 + (i%37)*4
			if p := h.Alloc(size); p != nil {
				live = append(live, p)
			}
			// Every third round, free the oldest live allocation to create
			// the split/coalesce churn this command exists to exercise.
			if len(live) > 0 && i%3 == 0 {
				h.Free(live[0])
				live = live[1:]
			}
		}
		for _, p := range live {
			h.Free(p)
		}

		st := h.Monitor()
		fmt.Printf("after %d rounds: used=%d free=%d biggest_free=%d used_pct=%d frag_pct=%d\n",
			rounds, st.UsedCount, st.FreeCount, st.FreeBiggestSize, st.UsedPct, st.FragPct)

		if err := h.Test(); err != nil {
			return fmt.Errorf("heap failed integrity check after churn: %w", err)
		}
		fmt.Println("integrity check: OK")
		return nil
	},
}

var timersCommand = cli.Command{
	Name:  "timers",
	Usage: "run a handful of periodic timers against a synthetic millisecond clock",
	Flags: []cli.Flag{
		cli.IntFlag{Name: "ticks", Value: 1000, Usage: "total simulated milliseconds to advance"},
		cli.IntFlag{Name: "step", Value: 10, Usage: "milliseconds advanced per Handler call"},
	},
	Action: func(c *cli.Context) error {
		h, err := heap.New(heap.WithSize(c.GlobalInt("heap-size")))
		if err != nil {
			return err
		}
		clock := tick.New()
		sched := timer.New(clock, h)

		fires := map[string]int{}
		sched.Create(func(t *timer.Timer) { fires["fast"]++ }, 20, nil)
		sched.Create(func(t *timer.Timer) { fires["slow"]++ }, 200, nil)
		once := sched.Create(func(t *timer.Timer) { fires["once"]++ }, 50, nil)
		once.SetRepeatCount(1)

		step := uint32(c.Int("step"))
		total := uint32(c.Int("ticks"))
		for elapsed := uint32(0); elapsed < total; elapsed += step {
			clock.Inc(step)
			sched.Handler()
		}

		fmt.Printf("fast=%d slow=%d once=%d idle_last=%d%%\n", fires["fast"], fires["slow"], fires["once"], sched.IdleLast())
		return nil
	},
}

// Command optolog prints compile logs recorded with the log_db option.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"

	"opto/internal/complog"
)

func main() {
	method := flag.String("method", "", "list only compilations of this method, e.g. Main.get")
	events := flag.String("id", "", "print the events of one compilation")
	counts := flag.Bool("counts", false, "print how often each event was logged")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: optolog [-method Class.method | -id compile-id | -counts] <log.db>")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	store, err := complog.OpenStore(flag.Arg(0))
	if err != nil {
		fail(err)
	}
	defer store.Close()

	switch {
	case *events != "":
		err = printEvents(store, *events)
	case *counts:
		err = printCounts(store)
	default:
		err = printCompilations(store, *method)
	}
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func printCompilations(store *complog.Store, method string) error {
	comps, err := store.Compilations(method)
	if err != nil {
		return err
	}
	for _, c := range comps {
		fmt.Printf("%s  %-32s %s\n", c.ID, c.Method, humanize.Time(c.Started))
	}
	return nil
}

func printEvents(store *complog.Store, id string) error {
	evs, err := store.Events(id)
	if err != nil {
		return err
	}
	if len(evs) == 0 {
		return fmt.Errorf("no events for compilation %s", id)
	}
	for _, e := range evs {
		fmt.Printf("%4d %s\n", e.Seq, e)
	}
	return nil
}

func printCounts(store *complog.Store) error {
	counts, err := store.Counts()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		fmt.Printf("%-24s %s\n", name, humanize.Comma(int64(counts[name])))
	}
	return nil
}

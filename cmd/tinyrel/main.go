// Command tinyrel is an interactive shell over the storage engine. It
// speaks a small command language against the boundary API — the SQL
// front end (parser, planner, executor) lives outside this repository.
//
//	create <table> (<col> <kind>, ...)   kinds: int, varchar, char
//	insert <table> <value> ...
//	scan <table>
//	tables
//	quit
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/pflag"

	"github.com/SimonWaldherr/tinyREL/internal/datatype"
	"github.com/SimonWaldherr/tinyREL/internal/meta"
	"github.com/SimonWaldherr/tinyREL/internal/rel"
	"github.com/SimonWaldherr/tinyREL/internal/tuple"
)

var (
	flagDataDir = pflag.String("data-dir", "./data", "data directory")
	flagPool    = pflag.Int("pool", 0, "buffer pool capacity in pages (0 = unbounded)")
	flagFlush   = pflag.String("flush-interval", "", "background WAL flush interval (e.g. 5s)")
	flagConfig  = pflag.String("config", "", "YAML settings file (overrides other flags)")
)

func main() {
	pflag.Parse()

	settings := meta.Settings{
		DataDir:       *flagDataDir,
		PoolCapacity:  *flagPool,
		FlushInterval: *flagFlush,
	}
	if *flagConfig != "" {
		loaded, err := meta.LoadSettings(*flagConfig)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		settings = loaded
	}

	db, err := meta.Start(settings)
	if err != nil {
		log.Fatalf("start: %v", err)
	}

	code := runShell(db)

	if err := db.Shutdown(); err != nil {
		log.Printf("shutdown: %v", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func runShell(db *meta.DB) int {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	histPath := filepath.Join(os.TempDir(), "tinyrel_history")
	if f, err := os.Open(histPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	for {
		input, err := line.Prompt("> ")
		if err == liner.ErrPromptAborted || err == io.EOF {
			return 0
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if input == "quit" || input == "exit" {
			return 0
		}
		if err := dispatch(db, input); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func dispatch(db *meta.DB, input string) error {
	verb, rest, _ := strings.Cut(input, " ")
	switch verb {
	case "create":
		return cmdCreate(db, rest)
	case "insert":
		return cmdInsert(db, rest)
	case "scan":
		return cmdScan(db, rest)
	case "tables":
		names, err := db.ListTables()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	case "help":
		fmt.Println("commands: create <table> (<col> <kind>, ...) | insert <table> <values...> | scan <table> | tables | quit")
		return nil
	default:
		return fmt.Errorf("unknown command %q (try help)", verb)
	}
}

// cmdCreate parses `<table> (<col> <kind>, ...)`.
func cmdCreate(db *meta.DB, rest string) error {
	name, cols, ok := strings.Cut(rest, "(")
	name = strings.TrimSpace(name)
	if !ok || name == "" || !strings.HasSuffix(strings.TrimSpace(cols), ")") {
		return fmt.Errorf("usage: create <table> (<col> <kind>, ...)")
	}
	cols = strings.TrimSuffix(strings.TrimSpace(cols), ")")

	var attrs []tuple.Attr
	for _, part := range strings.Split(cols, ",") {
		fields := strings.Fields(part)
		if len(fields) != 2 {
			return fmt.Errorf("bad column %q (want <name> <kind>)", strings.TrimSpace(part))
		}
		kind, ok := datatype.FromSQLKind(datatype.SQLKind{Name: fields[1], Size: 1})
		if !ok {
			return fmt.Errorf("unknown kind %q", fields[1])
		}
		attrs = append(attrs, tuple.Attr{Name: fields[0], Kind: kind})
	}
	if len(attrs) == 0 {
		return fmt.Errorf("table needs at least one column")
	}
	r, err := rel.Create(db, name, tuple.NewTupleDesc(attrs))
	if err != nil {
		return err
	}
	fmt.Printf("created %s (rel %d)\n", name, r.ID())
	return nil
}

func cmdInsert(db *meta.DB, rest string) error {
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return fmt.Errorf("usage: insert <table> <values...>")
	}
	r, err := db.OpenRel(fields[0])
	if err != nil {
		return err
	}
	data, err := r.TupleDesc().DataFromStrings(fields[1:])
	if err != nil {
		return err
	}
	ptr, err := r.Insert(db, data)
	if err != nil {
		return err
	}
	fmt.Printf("inserted at %s\n", ptr)
	return nil
}

func cmdScan(db *meta.DB, rest string) error {
	name := strings.TrimSpace(rest)
	if name == "" {
		return fmt.Errorf("usage: scan <table>")
	}
	r, err := db.OpenRel(name)
	if err != nil {
		return err
	}
	count := 0
	err = r.Scan(db, nil, func(data []byte) {
		row, derr := r.DataToStrings(data, nil)
		if derr != nil {
			fmt.Println("<undecodable tuple>")
			return
		}
		fmt.Println(strings.Join(row, " | "))
		count++
	})
	if err != nil {
		return err
	}
	fmt.Printf("(%d rows)\n", count)
	return nil
}

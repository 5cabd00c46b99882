// Package main provides the odm-explain CLI: it loads a YAML schema file,
// compiles query or update expressions against a registered class, and
// prints the resulting wire documents. Useful for checking what a DSL
// expression actually sends to the database.
//
// Usage:
//
//	odm-explain -schema blog.yaml -class Post age__gte=30 title__icontains=go
//	odm-explain -schema blog.yaml -class Post -update inc__views=1 push__tags=new
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"document-mapper/query"
	"document-mapper/schema"
)

func main() {
	schemaPath := flag.String("schema", "", "path to the YAML schema file")
	className := flag.String("class", "", "class to compile against")
	update := flag.Bool("update", false, "treat arguments as update expressions")
	debug := flag.Bool("debug", false, "dump the compiled document structure")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if *schemaPath == "" || *className == "" {
		fmt.Fprintln(os.Stderr, "odm-explain: -schema and -class are required")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*schemaPath, *className, flag.Args(), *update, *debug); err != nil {
		fmt.Fprintln(os.Stderr, "odm-explain:", err)
		os.Exit(1)
	}
}

func run(schemaPath, className string, args []string, update, debug bool) error {
	file, err := schema.LoadFile(schemaPath)
	if err != nil {
		return err
	}

	registry := schema.NewRegistry()
	if err := file.Build(registry); err != nil {
		return err
	}

	entry, err := registry.Lookup(className)
	if err != nil {
		return err
	}

	conds, err := parseArgs(args)
	if err != nil {
		return err
	}

	var doc any

	if update {
		doc, err = query.CompileUpdate(entry, query.Update(conds))
	} else {
		doc, err = query.CompileQuery(entry, query.Cond(conds))
	}

	if err != nil {
		return err
	}

	if debug {
		spew.Dump(doc)
		return nil
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}

	fmt.Print(string(out))

	return nil
}

// parseArgs turns key=value arguments into a condition map. Values go
// through YAML decoding so numbers, booleans and flow-style lists come out
// typed.
func parseArgs(args []string) (map[string]any, error) {
	conds := make(map[string]any, len(args))

	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not of the form key=value", arg)
		}

		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("argument %q: %w", arg, err)
		}

		conds[key] = value
	}

	return conds, nil
}

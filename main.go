package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackvm/compiler/engine"
	"github.com/jackvm/compiler/logger"
	"github.com/jackvm/compiler/onerror"
	"github.com/jackvm/compiler/tokenizer"
	"github.com/jackvm/compiler/vm"
)

var errNoJackFiles = errors.New("no .jack files found")

func main() {
	os.Exit(run())
}

func run() int {
	var verbose bool
	flag.BoolVar(&verbose, "v", false, "print progress as classes are compiled")
	flag.Parse()
	logger.Toggle(verbose)

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: jackc [-v] <file.jack|directory>")
		return -1
	}
	path := flag.Arg(0)

	files, err := collectSourceFiles(path)
	if onerror.Log("", err) {
		return -1
	}

	for _, file := range files {
		if err := compileFile(file); err != nil {
			onerror.Log(fmt.Sprintf("compiling %s: ", file), err)
			return -1
		}
	}

	return 0
}

// collectSourceFiles resolves path to the .jack files to compile: a
// single file, or every immediate-child .jack file of a directory.
func collectSourceFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot access %q: %w", path, err)
	}

	if !info.IsDir() {
		if filepath.Ext(path) != ".jack" {
			return nil, fmt.Errorf("%q is not a .jack file", path)
		}
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read directory %q: %w", path, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".jack") {
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %q", errNoJackFiles, path)
	}

	return files, nil
}

func compileFile(path string) error {
	logger.Printf("input:\t%s\n", path)

	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening file: %w", err)
	}
	defer in.Close()

	outputPath := strings.TrimSuffix(path, ".jack") + ".vm"
	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0666)
	if err != nil {
		return fmt.Errorf("error opening output file: %w", err)
	}
	defer out.Close()

	tk, err := tokenizer.New(in)
	if err != nil {
		return err
	}
	vmw := vm.New(out)

	if err := engine.Compile(tk, vmw); err != nil {
		return err
	}

	logger.Printf("output:\t%s\n", outputPath)
	return nil
}

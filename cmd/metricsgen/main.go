/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Command metricsgen regenerates metrics/generated_collector.go by
// walking the AST of metrics/stats.go and reading the `mcast` struct
// tag off each counter field.
package main

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"log"
	"os"
	"reflect"
	"strings"
	"text/template"
)

const (
	sourcePath = "metrics/stats.go"
	outputPath = "metrics/generated_collector.go"
)

// Metric is one row fed to the template.
type Metric struct {
	Name      string
	FieldName string
	Help      string
}

func main() {
	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, sourcePath, nil, parser.ParseComments)
	if err != nil {
		log.Fatal(err)
	}

	var metrics []Metric
	ast.Inspect(node, func(n ast.Node) bool {
		s, ok := n.(*ast.StructType)
		if !ok {
			return true
		}
		for _, f := range s.Fields.List {
			if f.Tag == nil {
				continue
			}
			tag := reflect.StructTag(strings.Trim(f.Tag.Value, "`"))
			mcastTag, ok := tag.Lookup("mcast")
			if !ok {
				continue
			}
			m := Metric{FieldName: f.Names[0].Name}
			rest := mcastTag
			for rest != "" {
				i := strings.Index(rest, "=")
				if i == -1 {
					log.Fatalf("malformed tag (missing =): %s [%s]", rest, m.FieldName)
				}
				key := rest[:i]
				rest = rest[i+1:]

				var value string
				if strings.HasPrefix(rest, "'") {
					rest = rest[1:]
					j := strings.Index(rest, "'")
					if j == -1 {
						log.Fatalf("malformed tag (missing '): %s [%s]", rest, m.FieldName)
					}
					value = rest[:j]
					rest = rest[j+1:]
					rest = strings.TrimPrefix(rest, ",")
				} else {
					j := strings.Index(rest, ",")
					if j == -1 {
						value = rest
						rest = ""
					} else {
						value = rest[:j]
						rest = rest[j+1:]
					}
				}

				switch key {
				case "name":
					m.Name = value
				case "prom_help":
					m.Help = value
				case "prom_type":
					// Every counter in Stats is a monotonic counter;
					// the generated file hard-codes CounterValue.
				}
			}
			metrics = append(metrics, m)
		}
		return false
	})

	t, err := template.ParseFiles("cmd/metricsgen/template.tmpl")
	if err != nil {
		log.Fatal(err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, struct{ Metrics []Metric }{Metrics: metrics}); err != nil {
		log.Fatal(err)
	}

	if err := os.WriteFile(outputPath, buf.Bytes(), 0644); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Generated %s\n", outputPath)
}

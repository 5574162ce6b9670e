package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// render writes v as JSON when --json or --jq is set, and through human
// otherwise.
func render(c *cli.Context, v any, human func(w io.Writer)) error {
	if filter := c.String("jq"); filter != "" {
		return outputJQ(c.App.Writer, v, filter)
	}
	if c.Bool("json") {
		return outputJSON(c.App.Writer, v)
	}
	human(c.App.Writer)
	return nil
}

// Helper function to output JSON
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputJQ runs filter over v and writes every result as a JSON line.
// Plain strings are written unquoted.
func outputJQ(w io.Writer, v any, filter string) error {
	query, err := gojq.Parse(filter)
	if err != nil {
		return fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}

	// gojq only walks plain JSON values.
	input, err := toJQValue(v)
	if err != nil {
		return err
	}

	iter := code.Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := result.(error); isErr {
			return fmt.Errorf("jq filter %q failed: %w", filter, err)
		}
		if s, isString := result.(string); isString {
			fmt.Fprintln(w, s)
			continue
		}
		data, err := gojq.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal jq result: %w", err)
		}
		fmt.Fprintln(w, string(data))
	}
}

func toJQValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal output: %w", err)
	}
	return out, nil
}

func optional(s *string, fallback string) string {
	if s != nil && *s != "" {
		return *s
	}
	return fallback
}

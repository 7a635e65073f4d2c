package postgres

import (
	"fmt"
	"strconv"
	"strings"
)

// EncodeVector renders an embedding as a pgvector text literal, "[1,2,3]",
// for use with a $n::vector cast. pgvector parses the text form directly,
// so no driver-level codec registration is needed.
func EncodeVector(v []float32) string {
	var b strings.Builder
	b.Grow(len(v)*10 + 2)
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// DecodeVector parses pgvector's text output back into a float32 slice.
func DecodeVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("malformed vector literal %q", truncate(s, 32))
	}
	inner := s[1 : len(s)-1]
	if inner == "" {
		return []float32{}, nil
	}

	parts := strings.Split(inner, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector element %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// ZeroVector returns a zero embedding literal of the given dimension, used
// by tests.
func ZeroVector(dim int) string {
	elems := make([]string, dim)
	for i := range elems {
		elems[i] = "0"
	}
	return "[" + strings.Join(elems, ",") + "]"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

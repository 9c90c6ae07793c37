package gormlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShortCaller(t *testing.T) {
	cases := map[string]string{
		"":                                      "",
		"/home/ci/repo/internal/models/x.go:12": "internal/models/x.go:12",
		"/home/ci/repo/pkg/tool/id.go:3":        "pkg/tool/id.go:3",
		"/a/b/c/d.go:9":                         "b/c/d.go:9",
		"/x.go:1":                               "x.go:1",
	}
	for in, want := range cases {
		require.Equal(t, want, shortCaller(in), in)
	}
}

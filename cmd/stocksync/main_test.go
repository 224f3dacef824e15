package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/skeolabs/stocksync/internal/app"
	"github.com/skeolabs/stocksync/internal/common"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"config error", errors.New("missing DefaultSystem"), exitConfigError},
		{"store corrupt", &common.StoreCorruptError{Op: "open", Err: errors.New("locked")}, exitStoreError},
		{"all adapters failed", app.ErrAllAdaptersFailed, exitAdaptersError},
		{"wrapped all adapters failed", fmt.Errorf("building adapters: %w", app.ErrAllAdaptersFailed), exitAdaptersError},
		{"communication error", common.NewCommunicationError("OPENCART", "zero items retrieved from Opencart", nil), exitAdaptersError},
		{"wrapped communication error", fmt.Errorf("cleanup: %w", common.NewCommunicationError("LAZADA", "refresh", errors.New("timeout"))), exitAdaptersError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := exitCode(tc.err); got != tc.want {
				t.Errorf("exitCode(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}

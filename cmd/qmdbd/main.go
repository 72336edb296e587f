// Copyright 2026 The QMDB Authors
// This file is part of QMDB.
//
// QMDB is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// QMDB is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with QMDB. If not, see <http://www.gnu.org/licenses/>.

// Command qmdbd operates a QMDB data directory from the shell: opening it
// to print a status summary, or running an offline consistency check
// against it.
package main

import (
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ardaglobal/qmdb/pkg/qmdb"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "qmdbd: %+v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dir string

	root := &cobra.Command{
		Use:           "qmdbd",
		Short:         "Operate a QMDB data directory",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dir, "dir", "", "QMDB data directory (required)")
	root.MarkPersistentFlagRequired("dir")

	root.AddCommand(newStatusCmd(&dir), newFsckCmd(&dir))
	return root
}

func newLogger() *zap.SugaredLogger {
	logger, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

func newStatusCmd(dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Open the engine and print height, root and entry counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := qmdb.Open(qmdb.Options{Dir: *dir, Logger: newLogger()})
			if err != nil {
				return pkgerrors.Wrap(err, "open engine")
			}
			defer e.Close()

			stats := e.Stats()
			fmt.Printf("height:         %d\n", stats.Height)
			fmt.Printf("next serial:    %d\n", stats.NextSerial)
			fmt.Printf("active entries: %d\n", stats.ActiveEntries)
			fmt.Printf("indexed keys:   %d\n", stats.IndexerKeys)
			fmt.Printf("root:           %x\n", e.Root())
			return nil
		},
	}
}

func newFsckCmd(dir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "fsck",
		Short: "Run the offline consistency walk and report any problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := qmdb.Open(qmdb.Options{Dir: *dir, Logger: newLogger()})
			if err != nil {
				return pkgerrors.Wrap(err, "open engine")
			}
			defer e.Close()

			report, err := e.Verify()
			if err != nil {
				return pkgerrors.Wrap(err, "verify")
			}
			fmt.Printf("entries checked: %d\n", report.EntriesChecked)
			fmt.Printf("twigs checked:   %d\n", report.TwigsChecked)
			if report.OK() {
				fmt.Println("OK")
				return nil
			}
			fmt.Printf("mismatched twigs:  %v\n", report.MismatchedTwigs)
			fmt.Printf("corrupted offsets: %v\n", report.CorruptedOffsets)
			return pkgerrors.New("fsck found problems")
		},
	}
}

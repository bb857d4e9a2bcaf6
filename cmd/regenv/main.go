// Copyright 2025 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/c2h5oh/datasize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/ledgerwatch/log/v3"
	"github.com/urfave/cli/v2"

	"github.com/erigontech/regenv/common/dbg"
	"github.com/erigontech/regenv/common/dir"
	"github.com/erigontech/regenv/db/regenv"
	"github.com/erigontech/regenv/db/regenv/mutex"
)

var (
	HomeFlag = cli.StringFlag{
		Name:  "home",
		Usage: "Environment home directory (default $REGENV_DB_HOME)",
		Value: dbg.EnvString("DB_HOME", ""),
	}
	VerbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Log level: 0=crit 1=error 2=warn 3=info 4=debug 5=trace",
		Value: int(log.LvlInfo),
	}
	SystemMemFlag = cli.BoolFlag{
		Name:  "system-mem",
		Usage: "Place regions in system shared memory segments",
	}
	InitFlagsFlag = cli.StringFlag{
		Name:  "init-flags",
		Usage: `Subsystems to record, e.g. "lock|log|thread"`,
	}
	RootSizeFlag = cli.StringFlag{
		Name:  "root-size",
		Usage: "Size of the root region, e.g. 1MB",
	}
	FallbackMutexFlag = cli.BoolFlag{
		Name:  "fcntl-mutex",
		Usage: "Use fcntl byte-range mutexes instead of futexes",
	}
	ForceFlag = cli.BoolFlag{
		Name:  "force",
		Usage: "Remove even when other processes are attached or the environment panicked",
	}
)

var createCommand = cli.Command{
	Action: createEnv,
	Name:   "create",
	Usage:  "Create an environment, or join an existing one, and leave it in place",
	Flags: []cli.Flag{
		&HomeFlag,
		&SystemMemFlag,
		&InitFlagsFlag,
		&RootSizeFlag,
		&FallbackMutexFlag,
	},
}

var statCommand = cli.Command{
	Action: statEnv,
	Name:   "stat",
	Usage:  "Print the root header and region descriptors",
	Flags:  []cli.Flag{&HomeFlag},
}

var removeCommand = cli.Command{
	Action:      removeEnv,
	Name:        "remove",
	Usage:       "Destroy an environment and unlink its region files",
	Flags:       []cli.Flag{&HomeFlag, &ForceFlag},
	Description: `Exit codes: 0 removed, 2 busy, 3 panic, 4 not found, 1 other errors.`,
}

var panicCommand = cli.Command{
	Action: panicEnv,
	Name:   "panic",
	Usage:  "Mark an environment unusable for every attached process",
	Flags:  []cli.Flag{&HomeFlag},
}

func main() {
	app := cli.NewApp()
	app.Name = "regenv"
	app.Usage = "inspect and manage shared region environments"
	app.Version = regenv.BuildVersion().String()
	app.Flags = []cli.Flag{&VerbosityFlag}
	app.Commands = []*cli.Command{
		&createCommand,
		&statCommand,
		&removeCommand,
		&panicCommand,
	}
	app.UsageText = app.Name + ` [command] [flags]`
	app.Before = func(ctx *cli.Context) error {
		log.Root().SetHandler(log.LvlFilterHandler(log.Lvl(ctx.Int(VerbosityFlag.Name)), log.StderrHandler))
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func opts(ctx *cli.Context) (regenv.Opts, error) {
	home := ctx.String(HomeFlag.Name)
	if home == "" {
		return regenv.Opts{}, fmt.Errorf("--%s is required", HomeFlag.Name)
	}
	return regenv.New(home, log.New("home", home)), nil
}

func createEnv(ctx *cli.Context) error {
	o, err := opts(ctx)
	if err != nil {
		return err
	}
	dir.MustExist(ctx.String(HomeFlag.Name))
	o = o.Create()
	if ctx.IsSet(SystemMemFlag.Name) {
		o = o.SystemMem(ctx.Bool(SystemMemFlag.Name))
	}
	if s := ctx.String(InitFlagsFlag.Name); s != "" {
		f, err := regenv.ParseInitFlags(s)
		if err != nil {
			return err
		}
		o = o.InitFlags(f)
	}
	if s := ctx.String(RootSizeFlag.Name); s != "" {
		var sz datasize.ByteSize
		if err := sz.UnmarshalText([]byte(s)); err != nil {
			return fmt.Errorf("--%s: %w", RootSizeFlag.Name, err)
		}
		o = o.RootSize(sz)
	}
	if ctx.Bool(FallbackMutexFlag.Name) {
		o = o.MutexKind(mutex.KindFallback)
	}

	env, err := o.Open()
	if err != nil {
		return err
	}
	if env.Created() {
		fmt.Printf("created %s\n", env)
	} else {
		fmt.Printf("joined %s after %d retries\n", env, env.JoinRetries())
	}
	return env.Detach(false)
}

func statEnv(ctx *cli.Context) error {
	o, err := opts(ctx)
	if err != nil {
		return err
	}
	env, err := o.Open()
	if err != nil {
		return err
	}
	st, err := env.Stat()
	if err != nil {
		return errors.Join(err, env.Detach(false))
	}
	printStat(st)
	return env.Detach(false)
}

func printStat(st *regenv.EnvStat) {
	backing := "file"
	if st.System {
		backing = "system"
	}
	hdr := table.NewWriter()
	hdr.SetOutputMirror(os.Stdout)
	hdr.SetTitle("environment")
	hdr.AppendRows([]table.Row{
		{"magic", fmt.Sprintf("0x%x", st.Magic)},
		{"panic", st.Panic},
		{"version", st.Version},
		{"refcnt", st.Refcnt},
		{"init flags", st.InitFlags},
		{"mutex", st.MutexKind},
		{"backing", backing},
		{"size", datasize.ByteSize(st.Size).HumanReadable()},
		{"arena free", fmt.Sprintf("%s in %d blocks", datasize.ByteSize(st.Arena.FreeBytes).HumanReadable(), st.Arena.FreeBlocks)},
		{"root mutex", mutexString(st.Mutex)},
	})
	hdr.Render()

	regions := table.NewWriter()
	regions.SetOutputMirror(os.Stdout)
	regions.SetTitle("regions")
	regions.AppendHeader(table.Row{"id", "type", "size", "segid", "mutex"})
	for _, r := range st.Regions {
		segid := "-"
		if r.SegID >= 0 {
			segid = strconv.FormatInt(r.SegID, 10)
		}
		regions.AppendRow(table.Row{r.ID, r.Type, datasize.ByteSize(r.Size).HumanReadable(), segid, mutexString(r.Mutex)})
	}
	regions.Render()
}

func mutexString(s mutex.Stat) string {
	state := "free"
	if s.Locked {
		state = "held"
	}
	return fmt.Sprintf("%s %s nowait=%d wait=%d", s.Kind, state, s.NoWait, s.Wait)
}

func removeEnv(ctx *cli.Context) error {
	o, err := opts(ctx)
	if err != nil {
		return err
	}
	err = o.Remove(ctx.Bool(ForceFlag.Name))
	switch {
	case err == nil:
		return nil
	case regenv.IsBusy(err):
		return cli.Exit(err, 2)
	case regenv.IsPanic(err):
		return cli.Exit(err, 3)
	case regenv.IsNotFound(err):
		return cli.Exit(err, 4)
	default:
		return cli.Exit(err, 1)
	}
}

func panicEnv(ctx *cli.Context) error {
	o, err := opts(ctx)
	if err != nil {
		return err
	}
	env, err := o.Open()
	if err != nil {
		return err
	}
	return env.PanicDetach()
}

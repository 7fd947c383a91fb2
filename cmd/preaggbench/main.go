// Copyright 2024 The Tektite Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	konghcl "github.com/alecthomas/kong-hcl/v2"
	"github.com/spirit-labs/preagg/common"
	"github.com/spirit-labs/preagg/conf"
	"github.com/spirit-labs/preagg/driver"
	"github.com/spirit-labs/preagg/errors"
	log "github.com/spirit-labs/preagg/logger"
	"github.com/spirit-labs/preagg/metrics"
)

type arguments struct {
	Config   kong.ConfigFlag `help:"Path to config file" type:"existingfile"`
	Engine   conf.Config     `help:"Engine configuration" embed:"" prefix:""`
	Log      log.Config      `help:"Configuration for the logger" embed:"" prefix:"log-"`
	Workload workload        `help:"Synthetic workload" embed:"" prefix:"workload-"`
	Repeat   int             `help:"Number of times the query is run" default:"1"`
	// MetricsBind is the address prometheus metrics are served on while running, empty disables them.
	MetricsBind string `help:"Address to serve prometheus metrics on" default:""`
}

func main() {
	defer common.PanicHandler()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Errorf("%v", err)
		os.Exit(1)
	}
}

func loadConfig(args []string) (*arguments, error) {
	cfg := arguments{}
	parser, err := kong.New(&cfg, kong.Configuration(konghcl.Loader))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if _, err := parser.Parse(args); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := cfg.Log.Configure(); err != nil {
		return nil, errors.WithStack(err)
	}
	cfg.Engine.ApplyDefaults()
	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Workload.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	d, err := driver.New(cfg.Engine)
	if err != nil {
		return err
	}
	defer d.Close()
	if cfg.MetricsBind != "" {
		server := metrics.NewServer(cfg.MetricsBind)
		if err := server.Start(); err != nil {
			return errors.WithStack(err)
		}
		defer func() {
			if err := server.Stop(); err != nil {
				log.Warnf("failed to stop metrics server: %v", err)
			}
		}()
	}

	src, err := cfg.Workload.source()
	if err != nil {
		return err
	}
	q := cfg.Workload.query()
	log.Infof("running %q over %d %s rows", q.String(), src.NRows(), src.Format())
	var res *driver.Result
	var elapsed time.Duration
	for i := 0; i < max(cfg.Repeat, 1); i++ {
		start := time.Now()
		res, err = d.Query(ctx, q, src)
		if err != nil {
			return err
		}
		elapsed = time.Since(start)
		log.Debugf("run %d took %s", i, elapsed)
	}
	_, err = fmt.Fprintln(out, render(q.String(), res, elapsed))
	return err
}

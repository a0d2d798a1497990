// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cardinalhq/oteltools/pkg/telemetry"
	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/instrumentation/host"
	iruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/cardinalhq/fundsnap/internal/idgen"
)

var myInstanceID int64

// handleSignals returns a context cancelled on SIGINT or SIGTERM so ^C or
// an orchestrator stop shuts the process down gracefully.
func handleSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func debugEnabled() bool {
	return os.Getenv("DEBUG") != "" || os.Getenv("FUNDSNAP_DEBUG") != ""
}

func otlpEnabled() bool {
	return os.Getenv("OTEL_SERVICE_NAME") != "" && os.Getenv("ENABLE_OTLP_TELEMETRY") == "true"
}

// setupTelemetry installs the default logger writing text to logOut, and,
// when OTLP export is enabled, the OpenTelemetry SDK with runtime and host
// metrics. The returned function flushes telemetry and releases the signal
// context.
func setupTelemetry(servicename string, logOut io.Writer) (context.Context, func() error, error) {
	myInstanceID = idgen.InstanceID()

	doneCtx, doneCancel := handleSignals(context.Background())

	f := func() error {
		doneCancel()
		return nil
	}

	var opts *slog.HandlerOptions
	if debugEnabled() {
		opts = &slog.HandlerOptions{Level: slog.LevelDebug}
	}

	if !otlpEnabled() {
		slog.SetDefault(slog.New(slog.NewTextHandler(logOut, opts)).With(
			slog.String("service", servicename),
			slog.Int64("instanceID", myInstanceID),
		))
		return doneCtx, f, nil
	}

	slog.SetDefault(slog.New(slogmulti.Fanout(
		slog.NewTextHandler(logOut, opts),
		otelslog.NewHandler(servicename),
	)).With(
		slog.String("service", servicename),
		slog.Int64("instanceID", myInstanceID),
	))
	slog.Info("OpenTelemetry exporting enabled")

	otelShutdown, err := telemetry.SetupOTelSDK(doneCtx)
	if err != nil {
		doneCancel()
		return doneCtx, nil, fmt.Errorf("failed to setup OpenTelemetry SDK: %w", err)
	}

	if err := iruntime.Start(iruntime.WithMinimumReadMemStatsInterval(10 * time.Second)); err != nil {
		slog.Warn("failed to start runtime metrics", slog.Any("error", err))
	}
	if err := host.Start(); err != nil {
		slog.Warn("failed to start host metrics", slog.Any("error", err))
	}

	f = func() error {
		defer doneCancel()
		slog.Info("Shutting down OpenTelemetry SDK")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return otelShutdown(ctx)
	}
	return doneCtx, f, nil
}

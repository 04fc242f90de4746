// Package main provides guardctl, an operator CLI that inspects and clears
// lockouts and rate-limit counters directly in the shared Redis store.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	csrfConfig "authguard/internal/csrf/config"
	csrfService "authguard/internal/csrf/service"
	"authguard/internal/platform/config"
	"authguard/internal/platform/logger"
	platformRedis "authguard/internal/platform/redis"
	rlAdmin "authguard/internal/ratelimit/admin"
	rlConfig "authguard/internal/ratelimit/config"
	"authguard/internal/ratelimit/models"
	"authguard/internal/ratelimit/ports"
	"authguard/internal/ratelimit/service/authlockout"
	"authguard/internal/ratelimit/store/counter"
)

const usage = `guardctl manages authguard state in the shared counter store.

Usage:
  guardctl status        --user <id>
  guardctl unlock        --user <id> [--reason <text>] [--actor <id>]
  guardctl reset         --type <ip|endpoint|account|global> [--key <identifier>] [--actor <id>]
  guardctl csrf-cleanup

Common flags:
  -c, --config <file>   config file (AUTHGUARD_* env vars also apply)
      --timeout <dur>   overall command timeout (default 10s)
`

// errUsage marks invocation mistakes; they exit with status 2.
var errUsage = errors.New("usage")

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "guardctl:", err)
		os.Exit(1)
	}
}

// command is one parsed invocation.
type command struct {
	name    string
	config  string
	timeout time.Duration
	user    string
	reason  string
	actor   string
	limit   string
	key     string
}

func parse(args []string) (*command, error) {
	if len(args) == 0 {
		return nil, errUsage
	}
	cmd := &command{name: args[0]}
	fs := pflag.NewFlagSet(cmd.name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVarP(&cmd.config, "config", "c", "", "config file")
	fs.DurationVar(&cmd.timeout, "timeout", 10*time.Second, "overall command timeout")

	switch cmd.name {
	case "status":
		fs.StringVar(&cmd.user, "user", "", "user ID")
	case "unlock":
		fs.StringVar(&cmd.user, "user", "", "user ID")
		fs.StringVar(&cmd.reason, "reason", "", "reason recorded in the audit log")
		fs.StringVar(&cmd.actor, "actor", "", "operator ID (generated if empty)")
	case "reset":
		fs.StringVar(&cmd.limit, "type", "", "limit type")
		fs.StringVar(&cmd.key, "key", "", "counter identifier")
		fs.StringVar(&cmd.actor, "actor", "", "operator ID (generated if empty)")
	case "csrf-cleanup":
	default:
		return nil, fmt.Errorf("%w: unknown command %q", errUsage, cmd.name)
	}

	if err := fs.Parse(args[1:]); err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	if (cmd.name == "status" || cmd.name == "unlock") && cmd.user == "" {
		return nil, fmt.Errorf("%w: --user is required", errUsage)
	}
	if cmd.actor == "" {
		cmd.actor = "guardctl-" + uuid.NewString()
	}
	return cmd, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cmd, err := parse(args)
	if err != nil {
		return err
	}

	v, err := config.New(cmd.config)
	if err != nil {
		return err
	}
	cfg, err := config.FromViper(v)
	if err != nil {
		return err
	}
	if cfg.Redis.URL == "" {
		return errors.New("AUTHGUARD_REDIS_URL is required: the in-memory store is private to a server process")
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.timeout)
	defer cancel()

	client, err := platformRedis.New(ctx, cfg.Redis, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer client.Close() //nolint:errcheck // process exits right after

	store := counter.NewRedisStore(client.Client)
	return execute(ctx, cmd, store, v, out)
}

// execute runs cmd against store. Split from run so it can use any CounterStore.
func execute(ctx context.Context, cmd *command, store ports.CounterStore, v *viper.Viper, out io.Writer) error {
	log := logger.NewWithWriter(os.Stderr, "warn")

	if cmd.name == "csrf-cleanup" {
		cfg := csrfConfig.DefaultConfig()
		cfg.ApplyViper(v)
		svc, err := csrfService.New(store, csrfService.WithConfig(cfg), csrfService.WithLogger(log))
		if err != nil {
			return err
		}
		deleted, err := svc.CleanupExpiredTokens(ctx)
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]int{"tokens_deleted": deleted})
	}

	cfg := rlConfig.DefaultConfig()
	if err := cfg.ApplyViper(v); err != nil {
		return fmt.Errorf("rate limit config: %w", err)
	}
	lockout, err := authlockout.New(store, authlockout.WithConfig(cfg), authlockout.WithLogger(log))
	if err != nil {
		return err
	}
	admin, err := rlAdmin.New(lockout, store, rlAdmin.WithConfig(cfg), rlAdmin.WithLogger(log))
	if err != nil {
		return err
	}

	var result any
	switch cmd.name {
	case "status":
		result, err = admin.LockoutStatus(ctx, cmd.user)
	case "unlock":
		result, err = admin.Unlock(ctx, cmd.user, cmd.actor, &models.UnlockRequest{Reason: cmd.reason})
	case "reset":
		result, err = admin.ResetRateLimit(ctx, cmd.actor, &models.ResetRateLimitRequest{
			LimitType:  cmd.limit,
			Identifier: cmd.key,
		})
	}
	if err != nil {
		return err
	}
	return writeJSON(out, result)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

package modules

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/jaspreet-dot-casa/cinit/pkg/config"
	"github.com/jaspreet-dot-casa/cinit/pkg/datasource"
	"github.com/jaspreet-dot-casa/cinit/pkg/semaphore"
	"github.com/jaspreet-dot-casa/cinit/pkg/utils"
)

// DefaultFinalMessage is used when final_message is not configured.
const DefaultFinalMessage = "cinit v. $VERSION finished at $TIMESTAMP. Datasource $DATASOURCE. Up $UPTIME seconds"

// BootFinishedFile marks an instance as fully booted.
const BootFinishedFile = "boot-finished"

// finalMessage announces the end of boot and writes boot-finished.
type finalMessage struct{}

func (finalMessage) Name() string                   { return "final_message" }
func (finalMessage) Frequency() semaphore.Frequency { return semaphore.PerAlways }
func (finalMessage) ActivateByKeys() []string       { return nil }

func (finalMessage) Handle(_ context.Context, c *Cloud, cfg config.Config) error {
	now := time.Now()
	uptime := uptimeSeconds(c, now)
	timestamp := now.Format(time.RFC1123Z)

	source := "none"
	if c.Data != nil {
		source = c.Data.Source
		if c.Data.Subplatform != "" {
			source += " [" + c.Data.Subplatform + "]"
		}
	}

	msg := strings.NewReplacer(
		"$VERSION", c.Version,
		"${VERSION}", c.Version,
		"$TIMESTAMP", timestamp,
		"${TIMESTAMP}", timestamp,
		"$DATASOURCE", source,
		"${DATASOURCE}", source,
		"$UPTIME", uptime,
		"${UPTIME}", uptime,
	).Replace(cfg.String("final_message", DefaultFinalMessage))

	slog.Info(msg)
	if c.Out != nil {
		fmt.Fprintln(c.Out, msg)
	}
	if c.Data != nil && c.Data.Source == datasource.NoneName {
		slog.Warn("used fallback datasource None, no user-data or meta-data was applied")
	}

	finished := fmt.Sprintf("%s - %s - v. %s\n", uptime, timestamp, c.Version)
	return utils.WriteFileAtomic(filepath.Join(c.InstanceDir(), BootFinishedFile), []byte(finished), 0644)
}

// uptimeSeconds returns the system uptime, or the time since cinit started
// when sysinfo(2) is unavailable.
func uptimeSeconds(c *Cloud, now time.Time) string {
	var info unix.Sysinfo_t
	if c.Live() && unix.Sysinfo(&info) == nil {
		return fmt.Sprintf("%d.00", info.Uptime)
	}
	if !c.Started.IsZero() {
		return fmt.Sprintf("%.2f", now.Sub(c.Started).Seconds())
	}
	return "0.00"
}

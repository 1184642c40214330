package pipeline

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/osutil"
	"github.com/pkg/errors"
)

// Fetcher materializes a candidate source into a destination directory
type Fetcher interface {
	Fetch(ctx context.Context, source, dest string) error
}

// SourceFetcher is the default fetcher. An existing local directory is
// copied; anything else is treated as a clone-by-URL and fetched with a
// shallow git clone, retried on transient failure.
type SourceFetcher struct {
	attempts uint
	delay    time.Duration
}

// FetcherOption configures a SourceFetcher
type FetcherOption func(*SourceFetcher)

// WithRetries sets the clone retry count and delay between attempts
func WithRetries(attempts uint, delay time.Duration) FetcherOption {
	return func(f *SourceFetcher) {
		f.attempts = attempts
		f.delay = delay
	}
}

// NewSourceFetcher creates the default fetcher
func NewSourceFetcher(opts ...FetcherOption) *SourceFetcher {
	f := &SourceFetcher{
		attempts: 3,
		delay:    time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch materializes source into dest
func (f *SourceFetcher) Fetch(ctx context.Context, source, dest string) error {
	if info, err := os.Stat(source); err == nil && info.IsDir() {
		return copyDir(source, dest)
	}
	return f.clone(ctx, source, dest)
}

func (f *SourceFetcher) clone(ctx context.Context, url, dest string) error {
	return retry.Do(
		func() error {
			// a failed clone can leave a partial dest behind
			os.RemoveAll(dest)

			cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", url, dest)
			// cancellation must take down git's own children (ssh, git-remote-https)
			osutil.SetProcessGroup(cmd)
			osutil.SetProcessGroupKill(cmd)
			if output, err := cmd.CombinedOutput(); err != nil {
				return errors.Wrapf(err, "failed to clone repository: %s", string(output))
			}
			return nil
		},
		retry.Attempts(f.attempts),
		retry.Delay(f.delay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).WithError(err).WithField("attempt", n+1).Warn("retrying clone")
		}),
	)
}

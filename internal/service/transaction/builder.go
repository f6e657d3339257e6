package transaction

import (
	"bytes"
	_ "embed"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/juju/utils/v4"

	"github.com/oshokin/discord-installer/internal/config"
	domain "github.com/oshokin/discord-installer/internal/domain/install"
	"github.com/oshokin/discord-installer/internal/version"
)

// Exit codes of a rendered transaction besides 0.
const (
	// ExitValidation means the archive was rejected before anything changed.
	ExitValidation = 10
	// ExitRolledBack means a step failed and the previous state was restored.
	ExitRolledBack = 20
	// ExitRollbackFailed means the restore itself failed; the backup is kept.
	ExitRollbackFailed = 21
)

// timestampLayout is embedded in backup and log paths.
const timestampLayout = "20060102-150405"

//go:embed script.tmpl
var scriptTemplate string

var script = template.Must(template.New("transaction").
	Funcs(template.FuncMap{"quote": utils.ShQuote}).
	Parse(scriptTemplate))

// Builder binds transactions to the configured layout.
type Builder struct {
	// cfg provides the install root, desktop integration paths and backup locations.
	cfg config.Config
	// now is the clock used for CreatedAt.
	now func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithNow replaces the clock, mostly for tests.
func WithNow(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates a Builder.
func New(cfg config.Config, opts ...Option) *Builder {
	b := &Builder{
		cfg: cfg,
		now: time.Now,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// NewSpec binds a fresh transaction to archivePath.
func (b *Builder) NewSpec(archivePath string) domain.TransactionSpec {
	createdAt := b.now()
	attemptID := uuid.NewString()
	suffix := createdAt.Format(timestampLayout) + "-" + attemptID[:8]
	name := strings.ToLower(b.cfg.Application.Name)

	return domain.TransactionSpec{
		AttemptID:   attemptID,
		ArchivePath: archivePath,
		InstallRoot: b.cfg.InstallRoot,
		BackupRoot:  filepath.Join(b.cfg.BackupDir, name+"_backup_"+suffix),
		LogPath:     filepath.Join(b.cfg.TransactionLogDir, name+"_install_"+suffix+".log"),
		CreatedAt:   createdAt,
	}
}

// scriptData is what the template sees.
type scriptData struct {
	Spec             domain.TransactionSpec
	App              config.Application
	DesktopDir       string
	BinSymlink       string
	IconCacheDir     string
	InstallerVersion string
	Timestamp        string

	ExitValidation     int
	ExitRolledBack     int
	ExitRollbackFailed int
}

// Render returns the bash transaction for spec.
// Identical specs render identical scripts.
func (b *Builder) Render(spec domain.TransactionSpec) ([]byte, error) {
	if spec.ArchivePath == "" || spec.InstallRoot == "" || spec.BackupRoot == "" || spec.LogPath == "" {
		return nil, fmt.Errorf("%w: transaction is not fully bound", domain.ErrValidation)
	}

	data := scriptData{
		Spec:               spec,
		App:                b.cfg.Application,
		DesktopDir:         b.cfg.DesktopDir,
		BinSymlink:         b.cfg.BinSymlink,
		IconCacheDir:       b.cfg.IconCacheDir,
		InstallerVersion:   version.Short(),
		Timestamp:          spec.CreatedAt.Format(time.RFC3339),
		ExitValidation:     ExitValidation,
		ExitRolledBack:     ExitRolledBack,
		ExitRollbackFailed: ExitRollbackFailed,
	}

	var buffer bytes.Buffer
	if err := script.Execute(&buffer, data); err != nil {
		return nil, fmt.Errorf("render transaction: %w", err)
	}

	return buffer.Bytes(), nil
}

// DescribeExitCode explains a non-zero transaction exit code.
func DescribeExitCode(code int) string {
	switch code {
	case ExitValidation:
		return "archive rejected, nothing was changed"
	case ExitRolledBack:
		return "installation failed and was rolled back"
	case ExitRollbackFailed:
		return "installation failed and the rollback failed too; the backup was kept"
	default:
		return fmt.Sprintf("transaction exited with status %d", code)
	}
}

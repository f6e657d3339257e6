package transaction

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juju/utils/v4"
	"github.com/stretchr/testify/require"

	"github.com/oshokin/discord-installer/internal/config"
	domain "github.com/oshokin/discord-installer/internal/domain/install"
	"github.com/oshokin/discord-installer/internal/service/transaction/transactiontest"
)

var fixedNow = time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)

// runScript renders spec and runs it with bash, returning the exit code and output.
func runScript(t *testing.T, builder *Builder, spec domain.TransactionSpec) (int, string) {
	t.Helper()

	rendered, err := builder.Render(spec)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "transaction.sh")
	require.NoError(t, os.WriteFile(path, rendered, 0o700)) //nolint:gosec // Executable script.

	output, err := exec.Command("bash", path).CombinedOutput() //nolint:gosec // Test script.

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), string(output)
	}

	require.NoError(t, err)

	return 0, string(output)
}

func newLayout(t *testing.T) (config.Config, *Builder) {
	t.Helper()

	cfg := transactiontest.Layout(t, t.TempDir())

	return cfg, New(cfg)
}

// TestNewSpec produces fresh, timestamped bindings.
func TestNewSpec(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	builder := New(cfg, WithNow(func() time.Time { return fixedNow }))

	first := builder.NewSpec("/tmp/discord-0.0.35.tar.gz")
	second := builder.NewSpec("/tmp/discord-0.0.35.tar.gz")

	require.NotEqual(t, first.AttemptID, second.AttemptID)
	require.NotEqual(t, first.BackupRoot, second.BackupRoot)
	require.Equal(t, cfg.InstallRoot, first.InstallRoot)
	require.Equal(t, fixedNow, first.CreatedAt)
	require.True(t, strings.HasPrefix(first.BackupRoot, filepath.Join(cfg.BackupDir, "discord_backup_20240501-123000-")))
	require.True(t, strings.HasPrefix(first.LogPath, filepath.Join(cfg.TransactionLogDir, "discord_install_20240501-123000-")))
	require.True(t, strings.HasSuffix(first.LogPath, ".log"))
}

// TestRender_DeterministicAndQuoted renders byte-identical scripts and quotes hostile paths.
func TestRender_DeterministicAndQuoted(t *testing.T) {
	t.Parallel()

	builder := New(config.Default(), WithNow(func() time.Time { return fixedNow }))
	spec := builder.NewSpec("/home/o'neil/My Downloads/discord-0.0.35.tar.gz; rm -rf /")

	first, err := builder.Render(spec)
	require.NoError(t, err)

	second, err := builder.Render(spec)
	require.NoError(t, err)
	require.Equal(t, first, second)

	script := string(first)
	require.True(t, strings.HasPrefix(script, "#!/bin/bash\n"))
	require.Contains(t, script, "ARCHIVE="+utils.ShQuote(spec.ArchivePath)+"\n")
	require.Contains(t, script, spec.AttemptID)
	require.Contains(t, script, fixedNow.Format(time.RFC3339))

	if _, lookErr := exec.LookPath("bash"); lookErr == nil {
		output, syntaxErr := exec.Command("bash", "-n", "-c", script).CombinedOutput()
		require.NoError(t, syntaxErr, string(output))
	}

	_, err = builder.Render(domain.TransactionSpec{})
	require.ErrorIs(t, err, domain.ErrValidation)
}

// TestShQuoteRoundTrip round-trips through bash.
func TestShQuoteRoundTrip(t *testing.T) {
	t.Parallel()

	require.Equal(t, `'plain'`, utils.ShQuote("plain"))
	require.Equal(t, `'it'"'"'s'`, utils.ShQuote("it's"))

	transactiontest.RequireBash(t)

	value := `a b'c"d$e` + "`f`"
	output, err := exec.Command("bash", "-c", "printf %s "+utils.ShQuote(value)).Output()
	require.NoError(t, err)
	require.Equal(t, value, string(output))
}

// TestTransaction_FreshInstall deploys, registers and logs.
func TestTransaction_FreshInstall(t *testing.T) {
	t.Parallel()
	transactiontest.RequireBash(t)

	cfg, builder := newLayout(t)
	archive := transactiontest.WriteArchive(t, filepath.Join(cfg.DownloadDir, "discord-0.0.35.tar.gz"), transactiontest.AppFiles("0.0.35"))
	spec := builder.NewSpec(archive)

	code, output := runScript(t, builder, spec)
	require.Equal(t, 0, code, output)

	executable := filepath.Join(cfg.InstallRoot, "Discord")
	info, err := os.Stat(executable)
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&0o111)

	target, err := os.Readlink(cfg.BinSymlink)
	require.NoError(t, err)
	require.Equal(t, executable, target)

	entry, err := os.ReadFile(filepath.Join(cfg.DesktopDir, "discord.desktop"))
	require.NoError(t, err)
	require.Contains(t, string(entry), "Exec="+executable)
	require.Contains(t, string(entry), "Icon="+filepath.Join(cfg.InstallRoot, "discord.png"))

	entryInfo, err := os.Stat(filepath.Join(cfg.DesktopDir, "discord.desktop"))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o644), entryInfo.Mode().Perm())

	logContent, err := os.ReadFile(spec.LogPath)
	require.NoError(t, err)
	require.Contains(t, string(logContent), "Validating archive")
	require.Regexp(t, `^\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\] `, string(logContent))
	require.Contains(t, output, "installed in "+cfg.InstallRoot)

	require.NoDirExists(t, spec.BackupRoot)
}

// TestTransaction_UpdateOverwritesSymlinkAndDropsBackup replaces an existing installation.
func TestTransaction_UpdateOverwritesSymlinkAndDropsBackup(t *testing.T) {
	t.Parallel()
	transactiontest.RequireBash(t)

	cfg, builder := newLayout(t)

	first := transactiontest.WriteArchive(t, filepath.Join(cfg.DownloadDir, "discord-0.0.34.tar.gz"), transactiontest.AppFiles("0.0.34"))
	code, output := runScript(t, builder, builder.NewSpec(first))
	require.Equal(t, 0, code, output)

	second := transactiontest.WriteArchive(t, filepath.Join(cfg.DownloadDir, "discord-0.0.35.tar.gz"), transactiontest.AppFiles("0.0.35"))
	spec := builder.NewSpec(second)
	code, output = runScript(t, builder, spec)
	require.Equal(t, 0, code, output)

	buildInfo, err := os.ReadFile(filepath.Join(cfg.InstallRoot, "resources", "build_info.json"))
	require.NoError(t, err)
	require.Contains(t, string(buildInfo), "0.0.35")
	require.Contains(t, output, "Backing up")
	require.NoDirExists(t, spec.BackupRoot)

	target, err := os.Readlink(cfg.BinSymlink)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(cfg.InstallRoot, "Discord"), target)
}

// TestTransaction_RollbackRestoresPreviousTree fails after the install root was replaced.
func TestTransaction_RollbackRestoresPreviousTree(t *testing.T) {
	t.Parallel()
	transactiontest.RequireBash(t)

	cfg, builder := newLayout(t)

	good := transactiontest.WriteArchive(t, filepath.Join(cfg.DownloadDir, "discord-0.0.34.tar.gz"), transactiontest.AppFiles("0.0.34"))
	code, output := runScript(t, builder, builder.NewSpec(good))
	require.Equal(t, 0, code, output)

	before := transactiontest.TreeDigest(t, cfg.InstallRoot)

	broken := transactiontest.WriteArchive(t, filepath.Join(cfg.DownloadDir, "discord-0.0.35.tar.gz"), map[string]string{
		"Discord/discord.png": "png without executable",
	})
	spec := builder.NewSpec(broken)

	code, output = runScript(t, builder, spec)
	require.Equal(t, ExitRolledBack, code, output)
	require.Contains(t, output, "Restoring previous installation")
	require.Equal(t, before, transactiontest.TreeDigest(t, cfg.InstallRoot))
	require.NoDirExists(t, spec.BackupRoot)

	logContent, err := os.ReadFile(spec.LogPath)
	require.NoError(t, err)
	require.Contains(t, string(logContent), "rolled back")
}

// TestTransaction_RollbackRestoresLauncherEntry fails while registering and puts the old entry back.
func TestTransaction_RollbackRestoresLauncherEntry(t *testing.T) {
	t.Parallel()
	transactiontest.RequireBash(t)

	cfg, builder := newLayout(t)

	good := transactiontest.WriteArchive(t, filepath.Join(cfg.DownloadDir, "discord-0.0.34.tar.gz"), transactiontest.AppFiles("0.0.34"))
	code, output := runScript(t, builder, builder.NewSpec(good))
	require.Equal(t, 0, code, output)

	entry := filepath.Join(cfg.DesktopDir, cfg.Application.DesktopFile)
	previousEntry := "[Desktop Entry]\nName=Discord 0.0.34\n"
	require.NoError(t, os.WriteFile(entry, []byte(previousEntry), 0o644)) //nolint:gosec // Launcher entries are world-readable.

	before := transactiontest.TreeDigest(t, cfg.InstallRoot)

	// The symlink's parent is a regular file, so linking fails after the entry was written.
	blocker := filepath.Join(filepath.Dir(cfg.BinSymlink), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	blocked := cfg
	blocked.BinSymlink = filepath.Join(blocker, "discord")
	blockedBuilder := New(blocked)

	next := transactiontest.WriteArchive(t, filepath.Join(cfg.DownloadDir, "discord-0.0.35.tar.gz"), transactiontest.AppFiles("0.0.35"))
	spec := blockedBuilder.NewSpec(next)

	code, output = runScript(t, blockedBuilder, spec)
	require.Equal(t, ExitRolledBack, code, output)
	require.Contains(t, output, "Restoring launcher entry")
	require.Equal(t, before, transactiontest.TreeDigest(t, cfg.InstallRoot))

	content, err := os.ReadFile(entry) //nolint:gosec // Test path.
	require.NoError(t, err)
	require.Equal(t, previousEntry, string(content))

	backups, err := os.ReadDir(cfg.BackupDir)
	require.NoError(t, err)
	require.Empty(t, backups)
}

// TestTransaction_FreshRegistrationFailureRemovesEntry leaves no launcher entry behind.
func TestTransaction_FreshRegistrationFailureRemovesEntry(t *testing.T) {
	t.Parallel()
	transactiontest.RequireBash(t)

	cfg, _ := newLayout(t)

	blocker := filepath.Join(filepath.Dir(cfg.BinSymlink), "blocker")
	require.NoError(t, os.MkdirAll(filepath.Dir(blocker), 0o755))
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	cfg.BinSymlink = filepath.Join(blocker, "discord")
	builder := New(cfg)

	archive := transactiontest.WriteArchive(t, filepath.Join(cfg.DownloadDir, "discord-0.0.35.tar.gz"), transactiontest.AppFiles("0.0.35"))

	code, output := runScript(t, builder, builder.NewSpec(archive))
	require.Equal(t, ExitRolledBack, code, output)
	require.NoFileExists(t, filepath.Join(cfg.DesktopDir, cfg.Application.DesktopFile))
	require.NoDirExists(t, cfg.InstallRoot)
}

// TestTransaction_MissingFolderKeepsInstallation fails during extraction without touching the install root.
func TestTransaction_MissingFolderKeepsInstallation(t *testing.T) {
	t.Parallel()
	transactiontest.RequireBash(t)

	cfg, builder := newLayout(t)

	good := transactiontest.WriteArchive(t, filepath.Join(cfg.DownloadDir, "discord-0.0.34.tar.gz"), transactiontest.AppFiles("0.0.34"))
	code, output := runScript(t, builder, builder.NewSpec(good))
	require.Equal(t, 0, code, output)

	before := transactiontest.TreeDigest(t, cfg.InstallRoot)

	other := transactiontest.WriteArchive(t, filepath.Join(cfg.DownloadDir, "discord-0.0.35.tar.gz"), map[string]string{
		"Something/else": "x",
	})

	code, output = runScript(t, builder, builder.NewSpec(other))
	require.Equal(t, ExitRolledBack, code, output)
	require.Contains(t, output, "not found in archive")
	require.Equal(t, before, transactiontest.TreeDigest(t, cfg.InstallRoot))
}

// TestTransaction_FreshInstallFailureLeavesNothing removes a partial first installation.
func TestTransaction_FreshInstallFailureLeavesNothing(t *testing.T) {
	t.Parallel()
	transactiontest.RequireBash(t)

	cfg, builder := newLayout(t)

	broken := transactiontest.WriteArchive(t, filepath.Join(cfg.DownloadDir, "discord-0.0.35.tar.gz"), map[string]string{
		"Discord/discord.png": "png",
	})

	code, output := runScript(t, builder, builder.NewSpec(broken))
	require.Equal(t, ExitRolledBack, code, output)
	require.NoDirExists(t, cfg.InstallRoot)
}

// TestTransaction_InvalidArchiveAborts rejects garbage before any change.
func TestTransaction_InvalidArchiveAborts(t *testing.T) {
	t.Parallel()
	transactiontest.RequireBash(t)

	cfg, builder := newLayout(t)

	garbage := filepath.Join(cfg.DownloadDir, "discord-0.0.35.tar.gz")
	require.NoError(t, os.MkdirAll(cfg.DownloadDir, 0o755))
	require.NoError(t, os.WriteFile(garbage, []byte("not a tarball"), 0o600))

	spec := builder.NewSpec(garbage)
	code, output := runScript(t, builder, spec)
	require.Equal(t, ExitValidation, code, output)
	require.Contains(t, output, "Nothing was changed")
	require.NoDirExists(t, cfg.InstallRoot)
	require.NoDirExists(t, spec.BackupRoot)

	spec = builder.NewSpec(filepath.Join(cfg.DownloadDir, "missing.tar.gz"))
	code, output = runScript(t, builder, spec)
	require.Equal(t, ExitValidation, code, output)
	require.Contains(t, output, "archive not found")
}

// TestValidateArchive lists and hashes archives.
func TestValidateArchive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	valid := transactiontest.WriteArchive(t, filepath.Join(dir, "discord-0.0.35.tar.gz"), transactiontest.AppFiles("0.0.35"))
	info, err := ValidateArchive(valid)
	require.NoError(t, err)
	require.Equal(t, 5, info.Members)

	content, err := os.ReadFile(valid) //nolint:gosec // Test path.
	require.NoError(t, err)

	sum := sha256.Sum256(content)
	require.Equal(t, hex.EncodeToString(sum[:]), info.SHA256)
	require.EqualValues(t, len(content), info.Size)

	empty := transactiontest.WriteArchive(t, filepath.Join(dir, "empty.tar.gz"), nil)
	_, err = ValidateArchive(empty)
	require.ErrorIs(t, err, domain.ErrValidation)

	garbage := filepath.Join(dir, "garbage.tar.gz")
	require.NoError(t, os.WriteFile(garbage, []byte("garbage"), 0o600))
	_, err = ValidateArchive(garbage)
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = ValidateArchive(filepath.Join(dir, "missing.tar.gz"))
	require.ErrorIs(t, err, domain.ErrValidation)
}

// TestWriteArtifact writes an owner-only executable with the exact content.
func TestWriteArtifact(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "artifacts")
	spec := New(config.Default()).NewSpec("/tmp/discord-0.0.35.tar.gz")
	script := []byte("#!/bin/bash\necho ok\n")

	path, err := WriteArtifact(spec, script, dir)
	require.NoError(t, err)
	require.Equal(t, ArtifactPath(spec, dir), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, ArtifactMode, info.Mode().Perm())

	written, err := os.ReadFile(path) //nolint:gosec // Test path.
	require.NoError(t, err)
	require.True(t, bytes.Equal(script, written))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	_, err = WriteArtifact(spec, script, dir)
	require.Error(t, err)
}

// TestDescribeExitCode names the transaction's own exit codes.
func TestDescribeExitCode(t *testing.T) {
	t.Parallel()

	require.Contains(t, DescribeExitCode(ExitValidation), "nothing was changed")
	require.Contains(t, DescribeExitCode(ExitRolledBack), "rolled back")
	require.Contains(t, DescribeExitCode(ExitRollbackFailed), "backup was kept")
	require.Contains(t, DescribeExitCode(3), "3")
}

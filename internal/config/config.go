package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode selects how the installer acquires an archive.
type Mode string

const (
	// ModeAuto downloads the latest archive from the vendor endpoint.
	ModeAuto Mode = "auto"
	// ModeManual installs an archive the user placed in the downloads directory.
	ModeManual Mode = "manual"
)

// Application describes the vendor application being installed.
type Application struct {
	// Name is the human-readable application name used in messages and the launcher entry.
	Name string `yaml:"name"`
	// Folder is the top-level directory inside the archive that holds the application.
	Folder string `yaml:"folder"`
	// Executable is the launcher binary relative to the install root.
	Executable string `yaml:"executable"`
	// Icon is the icon file relative to the install root.
	Icon string `yaml:"icon"`
	// DesktopFile is the file name of the launcher entry.
	DesktopFile string `yaml:"desktop_file"`
	// WMClass is the StartupWMClass of the launcher entry.
	WMClass string `yaml:"wm_class"`
	// Comment is the launcher entry comment.
	Comment string `yaml:"comment"`
	// Categories is the launcher entry category list.
	Categories string `yaml:"categories"`
	// BuildInfo is the vendor metadata file, relative to the install root, that carries the version.
	BuildInfo string `yaml:"build_info"`
}

// Config holds every fixed path, endpoint and limit used by the installer.
// It is loaded once and passed by value into each component.
type Config struct {
	// Application describes the vendor package.
	Application Application `yaml:"application"`
	// InstallRoot is the canonical directory the application is deployed to.
	InstallRoot string `yaml:"install_root"`
	// AltInstallRoots are probed after InstallRoot when detecting an existing installation.
	AltInstallRoots []string `yaml:"alt_install_roots"`
	// BinSymlink is the stable symlink pointing at the installed executable.
	BinSymlink string `yaml:"bin_symlink"`
	// DesktopDir receives the launcher entry.
	DesktopDir string `yaml:"desktop_dir"`
	// IconCacheDir is refreshed best-effort after installation.
	IconCacheDir string `yaml:"icon_cache_dir"`
	// BackupDir holds timestamped backups of the previous installation.
	BackupDir string `yaml:"backup_dir"`
	// TransactionLogDir holds the timestamped logs written by the privileged transaction.
	TransactionLogDir string `yaml:"transaction_log_dir"`
	// ArtifactDir is where the rendered transaction is written before execution.
	ArtifactDir string `yaml:"artifact_dir"`
	// LogFile is the persistent per-user log.
	LogFile string `yaml:"log_file"`
	// DownloadURL is the vendor endpoint that redirects to the latest archive.
	DownloadURL string `yaml:"download_url"`
	// ConnectivityURL is probed to decide whether automatic mode can work.
	ConnectivityURL string `yaml:"connectivity_url"`
	// DownloadDir is searched for local archives and receives downloads.
	// Empty means the user's downloads directory is detected at runtime.
	DownloadDir string `yaml:"download_dir"`
	// ArchivePattern is the glob matching vendor archives.
	ArchivePattern string `yaml:"archive_pattern"`
	// Helper is the elevation helper program.
	Helper string `yaml:"helper"`
	// Mode is the initial acquisition mode.
	Mode Mode `yaml:"mode"`
	// SkipConfirmation installs right after a download without asking.
	SkipConfirmation bool `yaml:"skip_confirmation"`
	// MinFreeSpace is the free-space floor in bytes on the install root's filesystem.
	MinFreeSpace int64 `yaml:"min_free_space"`
	// RequestTimeout bounds metadata requests such as version resolution.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// SocketTimeout bounds dialing and waiting for response headers during downloads.
	SocketTimeout time.Duration `yaml:"socket_timeout"`
	// TransactionTimeout bounds the privileged transaction.
	TransactionTimeout time.Duration `yaml:"transaction_timeout"`
}

const (
	// DefaultConfigFilename is the default filename for installer settings.
	DefaultConfigFilename = "discord-installer.yaml"

	// DefaultDownloadURL redirects to the latest Linux tarball.
	DefaultDownloadURL = "https://discord.com/api/download?platform=linux&format=tar.gz"

	// DefaultConnectivityURL is probed for network reachability.
	DefaultConnectivityURL = "https://discord.com"

	// DefaultMinFreeSpace is the 500 MB floor required on the install root's filesystem.
	DefaultMinFreeSpace = 500 * 1024 * 1024

	// DefaultRequestTimeout bounds version resolution and connectivity probes.
	DefaultRequestTimeout = 10 * time.Second

	// DefaultSocketTimeout bounds connection setup and response headers of a download.
	DefaultSocketTimeout = 30 * time.Second

	// DefaultTransactionTimeout bounds the privileged transaction.
	DefaultTransactionTimeout = 5 * time.Minute

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	defaultLogFilename = ".discord_installer.log"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInstallRootRequired is returned when the install root is missing or relative.
	errInstallRootRequired = errors.New("install root must be an absolute path")
	// errHelperRequired is returned when no elevation helper is configured.
	errHelperRequired = errors.New("elevation helper must be provided")
	// errUnknownMode is returned for an unsupported acquisition mode.
	errUnknownMode = errors.New("unknown mode")
	// errArchivePattern is returned for a malformed archive glob.
	errArchivePattern = errors.New("invalid archive pattern")
)

// Default returns the configuration used when no settings file is present.
func Default() Config {
	logFile := defaultLogFilename
	if home, err := os.UserHomeDir(); err == nil {
		logFile = filepath.Join(home, defaultLogFilename)
	}

	return Config{
		Application: Application{
			Name:        "Discord",
			Folder:      "Discord",
			Executable:  "Discord",
			Icon:        "discord.png",
			DesktopFile: "discord.desktop",
			WMClass:     "discord",
			Comment:     "All-in-one voice and text chat for gamers",
			Categories:  "Network;InstantMessaging;",
			BuildInfo:   "resources/build_info.json",
		},
		InstallRoot:        "/opt/discord",
		AltInstallRoots:    []string{"/usr/share/discord"},
		BinSymlink:         "/usr/local/bin/discord",
		DesktopDir:         "/usr/share/applications",
		IconCacheDir:       "/usr/share/icons/hicolor",
		BackupDir:          "/tmp",
		TransactionLogDir:  "/tmp",
		ArtifactDir:        os.TempDir(),
		LogFile:            logFile,
		DownloadURL:        DefaultDownloadURL,
		ConnectivityURL:    DefaultConnectivityURL,
		ArchivePattern:     "discord-*.tar.gz",
		Helper:             "pkexec",
		Mode:               ModeAuto,
		MinFreeSpace:       DefaultMinFreeSpace,
		RequestTimeout:     DefaultRequestTimeout,
		SocketTimeout:      DefaultSocketTimeout,
		TransactionTimeout: DefaultTransactionTimeout,
	}
}

// Load reads configuration from the provided path on top of Default and validates it.
// A missing file at the default location is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != "" && path != DefaultConfigFilename
	if !explicit {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	switch {
	case err == nil:
		if err = yaml.Unmarshal(contents, &cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal settings: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// Defaults only.
	default:
		return Config{}, fmt.Errorf("read settings: %w", err)
	}

	if err = Validate(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and fills defaults.
//
//nolint:cyclop // A flat list of field checks reads better than helpers.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	settings.InstallRoot = expandHome(settings.InstallRoot)
	if settings.InstallRoot == "" || !filepath.IsAbs(settings.InstallRoot) {
		return errInstallRootRequired
	}

	if strings.TrimSpace(settings.Helper) == "" {
		return errHelperRequired
	}

	switch settings.Mode {
	case "":
		settings.Mode = ModeAuto
	case ModeAuto, ModeManual:
	default:
		return fmt.Errorf("%w: %q", errUnknownMode, settings.Mode)
	}

	if _, err := filepath.Match(settings.ArchivePattern, ""); err != nil || settings.ArchivePattern == "" {
		return fmt.Errorf("%w: %q", errArchivePattern, settings.ArchivePattern)
	}

	for _, raw := range []string{settings.DownloadURL, settings.ConnectivityURL} {
		if _, err := url.ParseRequestURI(raw); err != nil {
			return fmt.Errorf("invalid endpoint URI %q: %w", raw, err)
		}
	}

	// Set defaults for limits that were not specified.
	if settings.MinFreeSpace <= 0 {
		settings.MinFreeSpace = DefaultMinFreeSpace
	}

	if settings.RequestTimeout <= 0 {
		settings.RequestTimeout = DefaultRequestTimeout
	}

	if settings.SocketTimeout <= 0 {
		settings.SocketTimeout = DefaultSocketTimeout
	}

	if settings.TransactionTimeout <= 0 {
		settings.TransactionTimeout = DefaultTransactionTimeout
	}

	if settings.ArtifactDir == "" {
		settings.ArtifactDir = os.TempDir()
	}

	settings.LogFile = expandHome(settings.LogFile)
	settings.DownloadDir = expandHome(settings.DownloadDir)

	return nil
}

// ModeFromString parses a mode name as accepted on the command line.
func ModeFromString(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAuto, ModeManual:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownMode, s)
	}
}

// InstallRoots returns the install root followed by the alternative roots, in probe order.
func (c Config) InstallRoots() []string {
	roots := make([]string, 0, len(c.AltInstallRoots)+1)
	roots = append(roots, c.InstallRoot)

	for _, root := range c.AltInstallRoots {
		if root != "" && root != c.InstallRoot {
			roots = append(roots, root)
		}
	}

	return roots
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// File: pkg/filter/rules.go
package filter

// MaxFileSize is the default cap, in bytes, above which a file body is
// omitted from the document.
const MaxFileSize int64 = 1 << 20

// Rules is the static data the Engine evaluates. It is passed in explicitly so
// the engine consults no process-wide tables.
type Rules struct {
	ForcedSkipDirs   []string // Directory names skipped regardless of options
	VCSDirs          []string // Version-control metadata, skipped when Options.SkipVCS
	BuildDirs        []string // Build output, skipped when Options.SkipBuild
	DependencyDirs   []string // Dependency manager caches, skipped when Options.SkipDependencyCache
	BinaryExtensions []string // Extensions whose body is never read
	MaxFileSize      int64    // Body cap in bytes; zero or less disables the cap
}

// DefaultRules returns a fresh copy of the built-in tables.
func DefaultRules() Rules {
	return Rules{
		ForcedSkipDirs: []string{
			".svn", ".hg", ".idea", ".vscode", "node_modules",
			"captures", "__pycache__", ".DS_Store",
		},
		VCSDirs:        []string{".git"},
		BuildDirs:      []string{"build", "target"},
		DependencyDirs: []string{".gradle"},
		BinaryExtensions: []string{
			// Archives and packages
			".zip", ".7z", ".rar", ".tar", ".gz", ".apk", ".jar",
			// Images
			".png", ".jpg", ".jpeg", ".webp", ".gif", ".ico", ".svg",
			// Compiled artifacts
			".so", ".dll", ".exe", ".class", ".dex", ".obj", ".lib",
			// Documents
			".pdf", ".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
			// Media
			".mp3", ".mp4", ".wav", ".ogg",
			// Databases
			".db", ".sqlite",
			// Fonts
			".ttf", ".woff", ".eot",
			// Design files
			".psd", ".ai",
		},
		MaxFileSize: MaxFileSize,
	}
}

// DefaultIgnoreFiles is the default user file-name blacklist.
func DefaultIgnoreFiles() []string {
	return []string{"local.properties", ".DS_Store", "thumbs.db", "desktop.ini"}
}

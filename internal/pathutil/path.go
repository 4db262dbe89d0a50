package pathutil

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Expand resolves environment variables and "~/" home shortcuts.
func Expand(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}

	expanded := os.ExpandEnv(trimmed)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := Home()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if expanded == "~" {
			expanded = home
		} else {
			expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~/"))
		}
	}

	return filepath.Clean(expanded), nil
}

// Home resolves the user home directory, refusing unresolved "~" values
// some minimal environments hand back.
func Home() (string, error) {
	if home, err := os.UserHomeDir(); err == nil {
		trimmed := strings.TrimSpace(home)
		if trimmed != "" && trimmed != "~" && !strings.HasPrefix(trimmed, "~/") {
			return trimmed, nil
		}
	}

	if current, err := user.Current(); err == nil {
		trimmed := strings.TrimSpace(current.HomeDir)
		if trimmed != "" && trimmed != "~" && !strings.HasPrefix(trimmed, "~/") {
			return trimmed, nil
		}
	}

	envHome := strings.TrimSpace(os.Getenv("HOME"))
	if envHome == "" {
		return "", fmt.Errorf("HOME is not set")
	}
	if envHome == "~" || strings.HasPrefix(envHome, "~/") {
		return "", fmt.Errorf("HOME is not fully resolved: %s", envHome)
	}
	return envHome, nil
}

// wellKnownDirs maps instruction keywords (Chinese and English) to home
// subdirectories. Lookup is case-insensitive substring match.
var wellKnownDirs = []struct {
	keywords []string
	dir      string
}{
	{[]string{"桌面", "desktop"}, "Desktop"},
	{[]string{"下载", "downloads", "download"}, "Downloads"},
	{[]string{"文档", "documents", "document"}, "Documents"},
	{[]string{"图片", "pictures", "picture"}, "Pictures"},
	{[]string{"音乐", "music"}, "Music"},
	{[]string{"视频", "videos", "video"}, "Videos"},
}

// WellKnownDir maps a free-text location reference to an absolute
// directory path. Returns "" when no keyword matches.
func WellKnownDir(text string) string {
	lower := strings.ToLower(text)
	for _, entry := range wellKnownDirs {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				expanded, err := Expand("~/" + entry.dir)
				if err != nil {
					return ""
				}
				return expanded
			}
		}
	}
	return ""
}

// Desktop returns the expanded ~/Desktop path, falling back to the raw
// shortcut when home cannot be resolved.
func Desktop() string {
	expanded, err := Expand("~/Desktop")
	if err != nil {
		return "~/Desktop"
	}
	return expanded
}

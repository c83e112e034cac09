package classify

import (
	"regexp"
	"strings"
)

// nameSet is a set of normalized process names.
type nameSet map[string]bool

func names(list ...string) nameSet {
	s := make(nameSet, len(list))
	for _, n := range list {
		s[n] = true
	}
	return s
}

var unknownProcesses = names("", "unknown", "unknown app", "none")

var terminalProcesses = names(
	"terminal", "iterm", "iterm2", "gnome-terminal", "gnome-terminal-server", "konsole",
	"alacritty", "kitty", "wezterm", "wezterm-gui", "xterm", "urxvt", "rxvt", "tilix",
	"terminator", "foot", "ghostty", "warp", "hyper", "windowsterminal", "wt", "cmd",
	"conhost", "powershell", "pwsh", "bash", "zsh", "fish", "sh", "tmux", "xfce4-terminal",
	"mate-terminal", "lxterminal", "st",
)

var ideProcesses = names(
	"code", "code - insiders", "code-insiders", "code-oss", "codium", "vscodium", "cursor",
	"windsurf", "zed", "idea", "idea64", "intellij idea", "pycharm", "pycharm64", "goland",
	"goland64", "webstorm", "webstorm64", "clion", "clion64", "rider", "rider64", "rubymine",
	"phpstorm", "datagrip", "android studio", "studio64", "xcode", "sublime_text",
	"sublime text", "subl", "atom", "nvim-qt", "gvim", "emacs", "neovide", "eclipse",
	"devenv", "fleet", "kate", "geany", "nova", "bbedit", "textmate", "notepad++", "lapce",
)

var browserProcesses = names(
	"chrome", "google chrome", "google-chrome", "chromium", "chromium-browser", "firefox",
	"firefox-esr", "msedge", "microsoft edge", "microsoft-edge", "safari", "brave",
	"brave-browser", "opera", "vivaldi", "vivaldi-bin", "arc", "zen", "zen-browser",
	"librewolf", "waterfox", "thorium", "yandex", "floorp", "epiphany",
)

// Native applications by category, matched on the process name.
var (
	designProcesses = names(
		"figma", "figma_agent", "photoshop", "illustrator", "indesign", "gimp", "gimp-2.10",
		"inkscape", "krita", "blender", "sketch", "affinity designer", "affinity photo",
		"canva", "xd", "adobe xd", "aseprite", "darktable", "lightroom", "resolve",
		"penpot", "pixelmator pro",
	)
	musicProcesses = names(
		"spotify", "music", "itunes", "apple music", "rhythmbox", "audacious", "clementine",
		"strawberry", "tidal", "deezer", "foobar2000", "amarok", "lollypop", "cmus", "elisa",
		"musicbee", "cider",
	)
	socialProcesses = names(
		"slack", "discord", "telegram", "telegram-desktop", "whatsapp", "signal",
		"signal-desktop", "teams", "ms-teams", "zoom", "zoom.us", "skype", "element",
		"messenger", "wechat", "mattermost",
	)
	gameProcesses = names(
		"steam", "steamwebhelper", "epicgameslauncher", "lutris", "heroic", "minecraft",
		"minecraftlauncher", "battle.net", "riotclientservices", "leagueclient",
		"galaxyclient", "retroarch",
	)
	readerProcesses = names(
		"okular", "evince", "acrobat", "acrord32", "foxitreader", "foxit pdf reader",
		"sumatrapdf", "preview", "xreader", "zathura", "calibre", "kindle", "zotero", "anki",
	)
)

// Title keywords that identify a native application when the process name is
// not in the tables above (Electron shells, Flatpak wrappers).
var (
	designTitleWords = []string{"figma", "photoshop", "illustrator", "blender", "inkscape", "krita", "gimp"}
	musicTitleWords  = []string{"spotify", "rhythmbox", "apple music", "tidal", "deezer"}
	socialTitleWords = []string{"slack", "discord", "telegram", "whatsapp", "microsoft teams", "zoom meeting"}
	gameTitleWords   = []string{"steam", "epic games", "minecraft", "battle.net"}
)

// Loose browser hints, used only when nothing more specific matched.
var (
	looseBrowserNameParts = []string{"browser", "chrome", "firefox", "edge", "safari", "opera"}
	looseBrowserTitleParts = []string{
		"google chrome", "mozilla firefox", "microsoft edge", "brave", "safari", "new tab",
	}
)

// Browser title signals, tested on the lowercased title.
var (
	codingSiteWords = []string{
		"github", "gitlab", "bitbucket", "stack overflow", "stackoverflow", "pull request",
		"merge request", "localhost", "127.0.0.1", "codepen", "codesandbox", "replit",
		"leetcode", "hackerrank", "pkg.go.dev", "go.dev", "npmjs", "crates.io", "pypi",
		"vercel", "netlify", "sourcegraph", "codeberg", "gitea", "jira", "sentry",
	}
	designSiteWords = []string{
		"figma", "dribbble", "behance", "canva", "excalidraw", "miro", "coolors", "penpot",
	}
	docReadingWords = []string{
		".pdf", "pdf", "documentation", " docs", "docs ", "docs.", "readme", "wiki",
		"arxiv", "read the docs", "mdn", "manual", "reference guide", "handbook", "whitepaper",
	}
	socialSiteWords = []string{
		"twitter", " / x", " on x:", "facebook", "instagram", "reddit", "linkedin", "mastodon",
		"whatsapp", "messenger", "slack", "discord", "telegram", "threads", "bluesky",
		"tiktok",
	}
	musicSiteWords = []string{
		"spotify", "soundcloud", "youtube music", "music.youtube", "apple music", "deezer",
		"tidal", "bandcamp", "pandora", "last.fm", "lofi", "lo-fi",
	}
	entertainmentSiteWords = []string{
		"youtube", "netflix", "twitch", "prime video", "disney+", "hulu", "hbo",
		"crunchyroll", "9gag", "imdb",
	}
	learningSiteWords = []string{
		"podcast", "course", "tutorial", "lecture", "udemy", "coursera", "edx",
		"khan academy", "khanacademy", "duolingo", "freecodecamp", "pluralsight",
		"frontend masters", "skillshare", "masterclass", "how to", "learn", "lesson",
	}
	gameTitleGenericWords = []string{"game", "gaming", "play now"}
)

// Terminal title signals.
var (
	terminalDocPhrases = []string{"man page", "manual page", "--help", "readme", "tldr", "info page"}
	terminalDocTokens  = names("man", "less", "more", "info", "tldr", "bat")
	workCommandTokens  = names(
		"git", "go", "npm", "npx", "yarn", "pnpm", "bun", "node", "deno", "python", "python3",
		"pip", "pytest", "cargo", "rustc", "make", "cmake", "docker", "kubectl", "helm",
		"terraform", "vim", "nvim", "vi", "nano", "hx", "ssh", "gradle", "mvn", "dotnet",
		"javac", "ruby", "bundle", "rails", "php", "composer", "psql", "mysql", "redis-cli",
	)
)

var sourceFileRe = regexp.MustCompile(
	`[\w-]+\.(go|py|js|mjs|ts|tsx|jsx|rs|java|kt|kts|c|cc|cpp|cxx|h|hpp|cs|rb|php|swift|m|mm|scala|sql|sh|bash|zsh|lua|dart|vue|svelte|zig|ex|exs|hs|ml|clj|proto|tf)\b`,
)

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// tokens splits s on anything that is not a letter, digit, '.', '-', '_' or '+'.
func tokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		case r == '.', r == '-', r == '_', r == '+':
			return false
		}
		return true
	})
}

func hasToken(s string, set nameSet) bool {
	for _, tok := range tokens(s) {
		if set[tok] {
			return true
		}
	}
	return false
}

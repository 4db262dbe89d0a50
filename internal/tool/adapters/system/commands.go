package system

import (
	"fmt"
	"runtime"
	"strconv"
)

// osCommand is one shell-free command invocation.
type osCommand struct {
	name string
	args []string
}

// errUnsupported marks verbs the current OS has no command for; the
// adapter surfaces these as requires_user_action failures.
var errUnsupported = fmt.Errorf("unsupported on %s", runtime.GOOS)

func screenshotCommand(savePath string) (osCommand, error) {
	switch runtime.GOOS {
	case "darwin":
		return osCommand{"screencapture", []string{"-x", savePath}}, nil
	case "linux":
		return osCommand{"gnome-screenshot", []string{"-f", savePath}}, nil
	case "windows":
		script := fmt.Sprintf(`Add-Type -AssemblyName System.Windows.Forms; `+
			`$b = New-Object System.Drawing.Bitmap([System.Windows.Forms.Screen]::PrimaryScreen.Bounds.Width, [System.Windows.Forms.Screen]::PrimaryScreen.Bounds.Height); `+
			`[System.Drawing.Graphics]::FromImage($b).CopyFromScreen(0, 0, 0, 0, $b.Size); $b.Save('%s')`, savePath)
		return osCommand{"powershell", []string{"-NoProfile", "-Command", script}}, nil
	}
	return osCommand{}, errUnsupported
}

func openCommand(target string) (osCommand, error) {
	switch runtime.GOOS {
	case "darwin":
		return osCommand{"open", []string{target}}, nil
	case "linux":
		return osCommand{"xdg-open", []string{target}}, nil
	case "windows":
		return osCommand{"cmd", []string{"/c", "start", "", target}}, nil
	}
	return osCommand{}, errUnsupported
}

func openAppCommand(app string, args []string) (osCommand, error) {
	switch runtime.GOOS {
	case "darwin":
		full := append([]string{"-a", app}, args...)
		return osCommand{"open", full}, nil
	case "linux":
		return osCommand{app, args}, nil
	case "windows":
		full := append([]string{"/c", "start", "", app}, args...)
		return osCommand{"cmd", full}, nil
	}
	return osCommand{}, errUnsupported
}

func closeAppCommand(app string) (osCommand, error) {
	switch runtime.GOOS {
	case "darwin":
		return osCommand{"osascript", []string{"-e", fmt.Sprintf(`quit app %q`, app)}}, nil
	case "linux":
		return osCommand{"pkill", []string{"-f", app}}, nil
	case "windows":
		return osCommand{"taskkill", []string{"/IM", app + ".exe", "/F"}}, nil
	}
	return osCommand{}, errUnsupported
}

func volumeCommand(level int) (osCommand, error) {
	switch runtime.GOOS {
	case "darwin":
		return osCommand{"osascript", []string{"-e", fmt.Sprintf("set volume output volume %d", level)}}, nil
	case "linux":
		return osCommand{"amixer", []string{"-D", "pulse", "sset", "Master", strconv.Itoa(level) + "%"}}, nil
	}
	return osCommand{}, errUnsupported
}

func brightnessCommand(level int) (osCommand, error) {
	switch runtime.GOOS {
	case "darwin":
		return osCommand{"brightness", []string{fmt.Sprintf("%.2f", float64(level) / 100)}}, nil
	case "linux":
		return osCommand{"brightnessctl", []string{"set", strconv.Itoa(level) + "%"}}, nil
	}
	return osCommand{}, errUnsupported
}

func notifyCommand(title, message string) (osCommand, error) {
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title %q`, message, title)
		return osCommand{"osascript", []string{"-e", script}}, nil
	case "linux":
		return osCommand{"notify-send", []string{title, message}}, nil
	case "windows":
		script := fmt.Sprintf(`[System.Reflection.Assembly]::LoadWithPartialName('System.Windows.Forms'); `+
			`[System.Windows.Forms.MessageBox]::Show('%s', '%s')`, message, title)
		return osCommand{"powershell", []string{"-NoProfile", "-Command", script}}, nil
	}
	return osCommand{}, errUnsupported
}

func speakCommand(text string) (osCommand, error) {
	switch runtime.GOOS {
	case "darwin":
		return osCommand{"say", []string{text}}, nil
	case "linux":
		return osCommand{"espeak", []string{text}}, nil
	}
	return osCommand{}, errUnsupported
}

func clipboardReadCommand() (osCommand, error) {
	switch runtime.GOOS {
	case "darwin":
		return osCommand{"pbpaste", nil}, nil
	case "linux":
		return osCommand{"xclip", []string{"-selection", "clipboard", "-o"}}, nil
	case "windows":
		return osCommand{"powershell", []string{"-NoProfile", "-Command", "Get-Clipboard"}}, nil
	}
	return osCommand{}, errUnsupported
}

func clipboardWriteCommand() (osCommand, error) {
	// Content goes in on stdin.
	switch runtime.GOOS {
	case "darwin":
		return osCommand{"pbcopy", nil}, nil
	case "linux":
		return osCommand{"xclip", []string{"-selection", "clipboard"}}, nil
	case "windows":
		return osCommand{"powershell", []string{"-NoProfile", "-Command", "$input | Set-Clipboard"}}, nil
	}
	return osCommand{}, errUnsupported
}

func keyboardTypeCommand(text string) (osCommand, error) {
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`tell application "System Events" to keystroke %q`, text)
		return osCommand{"osascript", []string{"-e", script}}, nil
	case "linux":
		return osCommand{"xdotool", []string{"type", "--delay", "50", text}}, nil
	}
	return osCommand{}, errUnsupported
}

func keyboardShortcutCommand(keys []string) (osCommand, error) {
	switch runtime.GOOS {
	case "linux":
		joined := ""
		for i, k := range keys {
			if i > 0 {
				joined += "+"
			}
			joined += k
		}
		return osCommand{"xdotool", []string{"key", joined}}, nil
	}
	return osCommand{}, errUnsupported
}

func mouseClickCommand(x, y int) (osCommand, error) {
	switch runtime.GOOS {
	case "linux":
		return osCommand{"xdotool", []string{"mousemove", strconv.Itoa(x), strconv.Itoa(y), "click", "1"}}, nil
	}
	return osCommand{}, errUnsupported
}

func mouseMoveCommand(x, y int) (osCommand, error) {
	switch runtime.GOOS {
	case "linux":
		return osCommand{"xdotool", []string{"mousemove", strconv.Itoa(x), strconv.Itoa(y)}}, nil
	}
	return osCommand{}, errUnsupported
}

func windowCommand(verb string) (osCommand, error) {
	switch runtime.GOOS {
	case "linux":
		switch verb {
		case "window_minimize":
			return osCommand{"xdotool", []string{"getactivewindow", "windowminimize"}}, nil
		case "window_maximize":
			return osCommand{"wmctrl", []string{"-r", ":ACTIVE:", "-b", "add,maximized_vert,maximized_horz"}}, nil
		case "window_close":
			return osCommand{"xdotool", []string{"getactivewindow", "windowclose"}}, nil
		}
	case "darwin":
		var script string
		switch verb {
		case "window_minimize":
			script = `tell application "System Events" to set miniaturized of first window of (first process whose frontmost is true) to true`
		case "window_close":
			script = `tell application "System Events" to keystroke "w" using command down`
		case "window_maximize":
			script = `tell application "System Events" to keystroke "f" using {command down, control down}`
		}
		if script != "" {
			return osCommand{"osascript", []string{"-e", script}}, nil
		}
	}
	return osCommand{}, errUnsupported
}

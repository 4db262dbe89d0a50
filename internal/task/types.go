package task

// Registered step types, grouped by adapter family. The set is closed: the
// executor rejects anything not listed here after alias normalization.

var BrowserTypes = []string{
	"browser_navigate", "browser_click", "browser_fill", "browser_wait",
	"browser_check_element", "browser_screenshot", "download_file",
	"request_login", "request_qr_login", "request_captcha",
	"fill_login", "fill_captcha",
}

var FileTypes = []string{
	"file_read", "file_write", "file_create", "file_delete", "file_rename",
	"file_move", "file_copy", "file_organize", "file_classify",
	"file_batch_rename", "file_batch_copy", "file_batch_organize",
	"list_files",
}

var SystemTypes = []string{
	"screenshot_desktop", "open_file", "open_folder", "open_app", "close_app",
	"set_volume", "set_brightness", "send_notification", "speak",
	"clipboard_read", "clipboard_write", "keyboard_type", "keyboard_shortcut",
	"mouse_click", "mouse_move", "window_minimize", "window_maximize",
	"window_close", "get_system_info", "image_process",
	"download_latest_python_installer", "execute_python_script", "text_process",
}

var EmailTypes = []string{
	"send_email", "search_emails", "get_email_details",
	"download_attachments", "manage_emails", "compress_files",
}

var ReminderTypes = []string{
	"set_reminder", "list_reminders", "cancel_reminder",
}

var WorkflowTypes = []string{
	"create_workflow", "list_workflows", "delete_workflow",
}

var HistoryTypes = []string{
	"get_task_history", "search_history",
	"add_favorite", "list_favorites", "remove_favorite",
}

var registeredTypes = buildTypeSet(
	BrowserTypes, FileTypes, SystemTypes, EmailTypes,
	ReminderTypes, WorkflowTypes, HistoryTypes,
)

func buildTypeSet(groups ...[]string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, group := range groups {
		for _, t := range group {
			set[t] = struct{}{}
		}
	}
	return set
}

// IsRegisteredType reports whether t is in the closed step-type set.
func IsRegisteredType(t string) bool {
	_, ok := registeredTypes[t]
	return ok
}

// RegisteredTypes returns every registered type, grouped order preserved.
func RegisteredTypes() []string {
	out := make([]string, 0, len(registeredTypes))
	for _, group := range [][]string{
		BrowserTypes, FileTypes, SystemTypes, EmailTypes,
		ReminderTypes, WorkflowTypes, HistoryTypes,
	} {
		out = append(out, group...)
	}
	return out
}

package task

import "strings"

// NormalizeType maps the synonyms a confused planner or reflector produces
// onto canonical registered types. Returns the canonical type and true, or
// ("", false) when the type cannot be resolved at all.
//
// The alias table is intentionally small: it covers only the synonyms
// observed in model output, keyed off the action text where one alias fans
// out to several canonical types.
func NormalizeType(stepType, action string) (string, bool) {
	t := strings.TrimSpace(stepType)
	lowerAction := strings.ToLower(action)

	// A file_move whose action says delete is a mislabeled file_delete.
	// The rewrite happens here, at dispatch, so reflector-produced steps
	// get it too; moving a file the user asked to remove is worse than
	// any false positive this check could produce.
	if t == "file_move" && containsAny(lowerAction, "删除", "delete") {
		return "file_delete", true
	}

	if IsRegisteredType(t) {
		return t, true
	}

	lowerType := strings.ToLower(t)

	switch lowerType {
	case "file_manager", "filemanager", "file_operation", "file_op":
		return fileAliasTarget(lowerAction), true
	case "app_control", "appcontrol", "application":
		if containsAny(lowerAction, "关闭", "close", "quit", "exit", "停止", "stop") {
			return "close_app", true
		}
		return "open_app", true
	case "shell", "command", "terminal", "run_script", "python", "python_script":
		return "execute_python_script", true
	case "screenshot", "take_screenshot", "capture_screen":
		return "screenshot_desktop", true
	case "browser", "web", "navigate":
		return "browser_navigate", true
	case "email", "mail":
		if containsAny(lowerAction, "搜索", "search", "find", "查找") {
			return "search_emails", true
		}
		return "send_email", true
	case "notification", "notify":
		return "send_notification", true
	case "reminder":
		if containsAny(lowerAction, "取消", "cancel", "delete", "remove") {
			return "cancel_reminder", true
		}
		if containsAny(lowerAction, "列出", "list", "show") {
			return "list_reminders", true
		}
		return "set_reminder", true
	}

	// Case-only mismatches resolve to the lowercase form when registered.
	if IsRegisteredType(lowerType) {
		return lowerType, true
	}

	return "", false
}

func fileAliasTarget(lowerAction string) string {
	switch {
	case containsAny(lowerAction, "删除", "delete", "remove", "清除"):
		return "file_delete"
	case containsAny(lowerAction, "重命名", "rename"):
		return "file_rename"
	case containsAny(lowerAction, "移动", "move"):
		return "file_move"
	case containsAny(lowerAction, "复制", "copy"):
		return "file_copy"
	case containsAny(lowerAction, "整理", "organize", "分类", "classify"):
		return "file_organize"
	case containsAny(lowerAction, "创建", "create", "新建"):
		return "file_create"
	case containsAny(lowerAction, "写入", "write"):
		return "file_write"
	case containsAny(lowerAction, "读取", "read", "查看"):
		return "file_read"
	case containsAny(lowerAction, "列出", "list"):
		return "list_files"
	default:
		return "file_read"
	}
}

func containsAny(text string, needles ...string) bool {
	for _, needle := range needles {
		if needle != "" && strings.Contains(text, needle) {
			return true
		}
	}
	return false
}

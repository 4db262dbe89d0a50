package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeType(t *testing.T) {
	tests := []struct {
		name     string
		stepType string
		action   string
		want     string
		ok       bool
	}{
		{"registered passes through", "file_delete", "删除文件", "file_delete", true},
		{"file_move with delete intent", "file_move", "删除文件", "file_delete", true},
		{"file_move english delete intent", "file_move", "delete the old report", "file_delete", true},
		{"file_move stays a move", "file_move", "move to archive", "file_move", true},
		{"file_manager delete action", "file_manager", "删除旧报告", "file_delete", true},
		{"file_manager english delete", "file_manager", "delete the report", "file_delete", true},
		{"file_manager move action", "file_operation", "move to archive", "file_move", true},
		{"file_manager default read", "FileManager", "打开报表", "file_read", true},
		{"app_control close", "app_control", "关闭微信", "close_app", true},
		{"app_control open default", "app_control", "启动浏览器", "open_app", true},
		{"shell alias", "shell", "run cleanup script", "execute_python_script", true},
		{"screenshot alias", "take_screenshot", "capture", "screenshot_desktop", true},
		{"case-only mismatch", "FILE_READ", "read config", "file_read", true},
		{"email search alias", "email", "搜索上周的邮件", "search_emails", true},
		{"unknown type rejected", "teleport", "go somewhere", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizeType(tt.stepType, tt.action)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegisteredTypesClosure(t *testing.T) {
	for _, typ := range RegisteredTypes() {
		canonical, ok := NormalizeType(typ, "")
		assert.True(t, ok)
		assert.Equal(t, typ, canonical)
	}
	assert.False(t, IsRegisteredType("file_manager"))
	assert.False(t, IsRegisteredType("app_control"))
}

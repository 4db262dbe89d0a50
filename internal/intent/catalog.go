package intent

// RegisterDefaults installs the shipped intent catalog. Order matters:
// earlier intents win similarity ties.
func RegisterDefaults(r *Router) {
	r.Register("screenshot",
		[]string{
			"截个屏", "截屏", "截图", "截个图", "帮我截屏",
			"take a screenshot", "capture my screen", "screenshot the desktop",
		},
		Metadata{
			StepType: "screenshot_desktop",
			Action:   "截取桌面截图",
			Params:   map[string]any{},
		})

	r.Register("app_open",
		[]string{
			"打开微信", "打开浏览器", "启动计算器", "帮我打开备忘录",
			"open the browser", "launch the calculator", "start the notes app",
		},
		Metadata{
			StepType: "open_app",
			Action:   "打开应用",
			Params:   map[string]any{},
		})

	r.Register("app_close",
		[]string{
			"关闭微信", "关掉浏览器", "退出计算器",
			"close the browser", "quit the calculator", "exit the notes app",
		},
		Metadata{
			StepType: "close_app",
			Action:   "关闭应用",
			Params:   map[string]any{},
		})

	r.Register("clipboard_read",
		[]string{
			"剪贴板里有什么", "读一下剪贴板", "粘贴板内容",
			"what is on my clipboard", "read the clipboard",
		},
		Metadata{
			StepType: "clipboard_read",
			Action:   "读取剪贴板",
			Params:   map[string]any{},
		})

	r.Register("system_info",
		[]string{
			"电脑配置怎么样", "系统信息", "内存占用多少", "CPU使用率",
			"show system info", "how much memory is in use", "cpu usage",
		},
		Metadata{
			StepType: "get_system_info",
			Action:   "获取系统信息",
			Params:   map[string]any{},
		})
}

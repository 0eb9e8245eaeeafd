package i18n

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestT_Languages(t *testing.T) {
	Init("zh")
	assert.Equal(t, "zh", Lang())
	assert.Equal(t, "心跳检测：外网不通，尝试重新登录…", T("watchdog.heartbeat_unreachable"))

	Init("en")
	assert.Equal(t, "Heartbeat: external network unreachable, logging in again…", T("watchdog.heartbeat_unreachable"))
}

func TestT_TemplateData(t *testing.T) {
	Init("zh")
	defer Init("en")

	assert.Equal(t, "连续 3 次登录失败，已暂停自动重连（请手动登录）",
		T("watchdog.frozen", map[string]any{"Count": 3}))
}

func TestT_UnknownIDFallsBack(t *testing.T) {
	Init("en")
	assert.Equal(t, "no.such.message", T("no.such.message"))
}

func TestT_UnknownLanguageFallsBackToEnglish(t *testing.T) {
	Init("tlh")
	defer Init("en")
	assert.Equal(t, "Watchdog stopped", T("cli.watch_stopped"))
}

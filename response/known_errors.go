package response

// KnownErrors maps literal base64 msg tokens sent by the portal to curated messages.
// Matching is table-agnostic: entries can be added without touching Classify.
var KnownErrors = map[string]string{
	"dXNlcmlkIGVycm9yMg==":         "账号或密码错误",
	"dXNlcmlkIGVycm9yMQ==":         "账号不存在，请切换运营商再尝试",
	"UmFkOkxpbWl0IFVzZXJzIEVycg==": "登录超限，请在用户自助服务系统下线终端",
}

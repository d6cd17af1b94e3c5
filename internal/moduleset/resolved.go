package moduleset

// Resolved 记录安装后某个模块的精确版本与其原始来源（registry 名称或 owner/repo、URL）。
type Resolved struct {
	Version        string `json:"version"`
	OriginalSource string `json:"original_source"`
}

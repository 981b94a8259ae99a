package sync

// OpType 定义同步操作类型
type OpType int

const (
	OpIgnore       OpType = iota // 忽略 (两边一致)
	OpUpload                     // 上传 (本地 -> 云盘)
	OpDeleteRemote               // 删除云盘上多出来的文件
)

// Task 代表一个具体的同步任务
type Task struct {
	Op      OpType
	RelPath string // 相对同步根的路径，统一用 / 分隔
	Reason  string // 触发原因 (用于日志)
}

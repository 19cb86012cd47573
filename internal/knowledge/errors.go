package knowledge

import "errors"

// 管道错误分类。检索超时是软失败（降级为部分结果），不在此列。
var (
	// ErrUnsupportedFormat 文件类型无法识别
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrExtractionFailed 文件不可读或已损坏
	ErrExtractionFailed = errors.New("text extraction failed")
	// ErrEmbeddingUnavailable 向量化服务网络/鉴权失败
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")
	// ErrCompletionUnavailable 生成服务网络/鉴权失败或超时
	ErrCompletionUnavailable = errors.New("completion service unavailable")
	// ErrMalformedOutput 模型输出无法解析为有效的结构化内容
	ErrMalformedOutput = errors.New("malformed generation output")
	// ErrInvalidTenant 调用方传入了非法的租户键（userID/topicID缺失），属于编程契约错误
	ErrInvalidTenant = errors.New("invalid tenant key: userID and topicID are required")
)

package models

// Material 学习资料记录。由外围CRUD层在上传落库后传入，核心只读。
type Material struct {
	MaterialID uint   `json:"material_id"`
	UserID     uint   `json:"user_id"`
	TopicID    uint   `json:"topic_id"`
	FileName   string `json:"file_name"`
	FilePath   string `json:"file_path"`
	FileType   string `json:"file_type"` // pdf | image | slides | doc | text
	Size       int64  `json:"size"`
}

// StudyNote 生成的学习笔记。持久化由外围层负责。
type StudyNote struct {
	Title           string `json:"title"`
	Content         string `json:"content"`
	ReadTimeMinutes int    `json:"read_time_minutes"`
	Fallback        bool   `json:"fallback"` // true表示降级/mock内容
}

// QuizQuestion 测验题目
type QuizQuestion struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation,omitempty"`
}

// Quiz 生成的测验
type Quiz struct {
	Title      string         `json:"title"`
	Difficulty string         `json:"difficulty"`
	Questions  []QuizQuestion `json:"questions"`
	Fallback   bool           `json:"fallback"`
}

// ChatTurn 一轮历史对话
type ChatTurn struct {
	Role    string `json:"role"` // user | assistant
	Content string `json:"content"`
}

// ChatReply 聊天回复
type ChatReply struct {
	Content  string `json:"content"`
	Fallback bool   `json:"fallback"`
}

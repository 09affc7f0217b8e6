package model

// RepoMessage là cấu trúc dữ liệu Repository gửi tới Kafka
type RepoMessage struct {
	ID         int64  `json:"id"`
	User       string `json:"user"`
	Name       string `json:"name"`
	StarCount  int    `json:"star_count"`
	ForkCount  int    `json:"fork_count"`
	WatchCount int    `json:"watch_count"`
	IssueCount int    `json:"issue_count"`
}

// ReleaseMessage là cấu trúc dữ liệu Release gửi tới Kafka
type ReleaseMessage struct {
	ID          int64  `json:"id"`
	RepoID      int64  `json:"repo_id"`
	RepoName    string `json:"repo_name"`
	TagName     string `json:"tag_name"`
	Name        string `json:"name"`
	Content     string `json:"content"`
	PublishedAt string `json:"published_at"`
}

// CommitMessage là cấu trúc dữ liệu Commit gửi tới Kafka
type CommitMessage struct {
	Hash      string `json:"hash"`
	RepoName  string `json:"repo_name"`
	TagName   string `json:"tag_name"`
	Message   string `json:"message"`
	ReleaseID int64  `json:"release_id"`
}

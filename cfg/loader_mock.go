package cfg

type MockLoader struct{}

func NewMockLoader() (*MockLoader, error) {
	return &MockLoader{}, nil
}

func (yl *MockLoader) Load() (*Config, error) {
	return &Config{
		// App
		App: App{
			Name:       "release-crawler",
			Version:    "0.0.1",
			LogBackend: "console",
		},

		// Mysql
		Mysql: Mysql{
			Host:                  "127.0.0.1",
			Password:              "root",
			Username:              "root",
			Port:                  "3306",
			Database:              "release_crawler",
			MaxIdleConnection:     10,
			MaxOpenConnection:     100,
			MaxLifeTimeConnection: 3600,
		},

		// GithubApi
		GithubApi: GithubApi{
			SearchApiUrl:      "https://api.github.com/search/repositories",
			ReleasesApiUrl:    "https://api.github.com/repos/{user}/{repo}/releases",
			CommitsApiUrl:     "https://api.github.com/repos/{user}/{repo}/commits?sha={tag}",
			TokenFile:         "token.txt",
			MinRemaining:      100,
			RequestIntervalMs: 100,
			MaxRetries:        3,
			RequestTimeoutSec: 30,
			RateLimitResetMin: 15,
		},

		// Crawler
		Crawler: Crawler{
			Sink:           "csv",
			OutputDir:      "output",
			Concurrency:    10,
			BatchSize:      50,
			BatchDelayMs:   500,
			MaxRepos:       5000,
			PagesPerWindow: 10,
			PerPage:        100,
		},

		// Kafka
		Kafka: Kafka{
			Enabled: false,
			Brokers: []string{"127.0.0.1:9092"},
			Producer: KafkaProducer{
				TopicRepo:    "crawler.repos",
				TopicRelease: "crawler.releases",
				TopicCommit:  "crawler.commits",
			},
		},
	}, nil
}

package helpers

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

var Version = "0.0.1"
var ReleaseDate = "2026-08-30"

type ConfigLog struct {
	File string `yaml:"file"`
	Web  string `yaml:"web"`
}

// 运行时配置，与应用配置文档（config.json）分开存放。
// 这里只放端口、日志路径、登录凭证这类部署期参数。
type Config struct {
	Log           ConfigLog `yaml:"log"`
	JwtSecret     string    `yaml:"jwtSecret"`
	HttpHost      string    `yaml:"httpHost"`
	AdminUsername string    `yaml:"adminUsername"`
	AdminPassword string    `yaml:"adminPassword"`
}

var GlobalConfig Config
var RootDir string
var ConfigDir string
var DataDir string
var IsRelease bool

var ExitChan = make(chan struct{})

func InitConfig() error {
	configPath := filepath.Join(ConfigDir, "config.yml")
	if !PathExists(configPath) {
		GlobalConfig = *MakeDefaultConfig()
		return SaveConfig(&GlobalConfig)
	}
	if err := loadYaml(configPath, &GlobalConfig); err != nil {
		return err
	}
	// 缺省值回填
	if GlobalConfig.Log.File == "" {
		GlobalConfig.Log.File = "logs/app.log"
	}
	if GlobalConfig.HttpHost == "" {
		GlobalConfig.HttpHost = ":12366"
	}
	if GlobalConfig.JwtSecret == "" {
		GlobalConfig.JwtSecret = "EmbyToolbox-JWT-TOKEN-260830"
	}
	return nil
}

func loadYaml(configPath string, cfg interface{}) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}
	return nil
}

func SaveConfig(config *Config) error {
	configPath := filepath.Join(ConfigDir, "config.yml")
	configData, err := yaml.Marshal(config)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(ConfigDir, 0755); err != nil {
		return err
	}
	return os.WriteFile(configPath, configData, 0644)
}

func MakeDefaultConfig() *Config {
	return &Config{
		Log: ConfigLog{
			File: "logs/app.log",
			Web:  "logs/web.log",
		},
		JwtSecret:     "EmbyToolbox-JWT-TOKEN-260830",
		HttpHost:      ":12366",
		AdminUsername: "admin",
		AdminPassword: "admin123",
	}
}

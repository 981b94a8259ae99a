package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"alipcs/internal/crypto"
)

// Config 对应 config.yaml 的根结构
type Config struct {
	Alipan   AlipanConfig   `yaml:"alipan"`
	Transfer TransferConfig `yaml:"transfer"`
	Crypto   CryptoConfig   `yaml:"crypto"`
	System   SystemConfig   `yaml:"system"`
}

// AlipanConfig 阿里云盘 API 配置
type AlipanConfig struct {
	// RefreshToken 首次登录的种子凭据，登录后凭据整体落库，
	// 这里留空也可以用 login 命令交互式录入
	RefreshToken string `yaml:"refresh_token"`
	UserAgent    string `yaml:"user_agent"`
}

// TransferConfig 上传/下载相关配置
type TransferConfig struct {
	// SliceSizeMB 上传分片大小 (MiB)，会按服务端分片数上限自动放大
	SliceSizeMB int `yaml:"slice_size_mb"`
	// ChunkSizeMB 下载单个 Range 请求的最大跨度 (MiB)
	ChunkSizeMB int `yaml:"chunk_size_mb"`
	// MaxConcurrent 批量任务的文件并发数
	MaxConcurrent int `yaml:"max_concurrent"`
	// SliceWorkers 单个文件内的分片并发数
	SliceWorkers int `yaml:"slice_workers"`
}

// CryptoConfig 加密配置
type CryptoConfig struct {
	Enable           bool   `yaml:"enable"`
	Password         string `yaml:"password"`
	EncryptFilenames bool   `yaml:"encrypt_filenames"`
}

// SystemConfig 系统配置
type SystemConfig struct {
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// Default 不依赖配置文件的缺省配置 (找不到文件时用)
func Default() *Config {
	cfg := &Config{}
	cfg.fillDefaults()
	return cfg
}

// LoadConfig 读取并解析配置文件
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 格式错误: %w", err)
	}

	cfg.fillDefaults()

	// 校验
	if cfg.Transfer.SliceSizeMB < 0 || cfg.Transfer.ChunkSizeMB < 0 {
		return nil, fmt.Errorf("分片/分块大小不能为负")
	}
	if cfg.Crypto.Enable && cfg.Crypto.Password == "" {
		return nil, fmt.Errorf("开启加密必须设置 crypto.password")
	}

	return &cfg, nil
}

func (c *Config) fillDefaults() {
	if c.Transfer.SliceSizeMB == 0 {
		c.Transfer.SliceSizeMB = 10
	}
	if c.Transfer.ChunkSizeMB == 0 {
		c.Transfer.ChunkSizeMB = 50
	}
	if c.Transfer.MaxConcurrent == 0 {
		c.Transfer.MaxConcurrent = 3
	}
	if c.Transfer.SliceWorkers == 0 {
		c.Transfer.SliceWorkers = 1
	}
	if c.System.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.System.DBPath = filepath.Join(home, ".alipcs", "alipcs.db")
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "info"
	}
}

// SliceSize 分片大小 (字节)
func (c *TransferConfig) SliceSize() int64 {
	return int64(c.SliceSizeMB) << 20
}

// ChunkSize 分块大小 (字节)
func (c *TransferConfig) ChunkSize() int64 {
	return int64(c.ChunkSizeMB) << 20
}

// GetAESKey 将用户输入的任意长度密码转换为 32字节 的 AES-256 密钥
// 使用 SHA-256 哈希算法
func (c *CryptoConfig) GetAESKey() []byte {
	if !c.Enable {
		return nil
	}
	return crypto.DeriveKey(c.Password)
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/John-Robertt/skymiles/internal/domain"
)

const (
	// ErrCodeNotFound 表示显式指定的配置文件不存在。
	ErrCodeNotFound = domain.ErrCodeConfigNotFound
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = domain.ErrCodeConfigInvalid
	// ErrCodeMissingInput 表示 CLI 与配置都没有给出输入文件。
	ErrCodeMissingInput = "config_missing_input"
)

const (
	// EnvPrefix 是环境变量前缀：SKYMILES_MAX_ATTEMPTS、SKYMILES_PROXY_URL ...
	EnvPrefix = "SKYMILES"
	// FileName 是配置文件的基础名（扩展名可为 yaml/yml/json/toml）。
	FileName = "skymiles"
)

// 内置默认值（CLI、环境变量与配置文件都未指定时使用）。
const (
	DefaultVariant       = "skywards-ph"
	DefaultOutDir        = "out"
	DefaultFilePrefix    = "miles"
	DefaultMaxAttempts   = 3
	DefaultRetryPause    = 500 * time.Millisecond
	DefaultResultTimeout = 90 * time.Second
	DefaultNavTimeout    = 60 * time.Second
	// DefaultActionTimeout 约束提交前的单个页面动作（重置表单、一次字段尝试、点击提交、恢复）。
	DefaultActionTimeout = 30 * time.Second

	maxAttemptsCap = 10
)

// CLIArgs 是 CLI 暴露的参数，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --headless=false 必须能覆盖配置里的 headless: true。
type CLIArgs struct {
	// ConfigPath 非空时必须存在；为空时在 cwd 下自动发现 skymiles.*（可选）。
	ConfigPath string
	Input      string

	Variant    string
	VariantSet bool

	OutDir    string
	OutDirSet bool

	Headless    bool
	HeadlessSet bool

	MaxAttempts    int
	MaxAttemptsSet bool

	ResultTimeout    time.Duration
	ResultTimeoutSet bool

	StrictFill    bool
	StrictFillSet bool

	KeepPages    bool
	KeepPagesSet bool

	Report    bool
	ReportSet bool

	LogLevel    string
	LogLevelSet bool
}

// FileConfig 是配置文件 + 环境变量合并后的原始结构（由 viper 解码）。
type FileConfig struct {
	Input         string        `mapstructure:"input"`
	InputSheet    string        `mapstructure:"input_sheet"`
	InputEncoding string        `mapstructure:"input_encoding"`
	Variant       string        `mapstructure:"variant"`
	OutDir        string        `mapstructure:"out_dir"`
	FilePrefix    string        `mapstructure:"file_prefix"`
	Headless      bool          `mapstructure:"headless"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	RetryPause    time.Duration `mapstructure:"retry_pause"`
	ResultTimeout time.Duration `mapstructure:"result_timeout"`
	NavTimeout    time.Duration `mapstructure:"nav_timeout"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	StrictFill    bool          `mapstructure:"strict_fill"`
	KeepPages     bool          `mapstructure:"keep_pages"`
	Report        bool          `mapstructure:"report"`
	Proxy         ProxyConfig   `mapstructure:"proxy"`
	UserAgent     string        `mapstructure:"user_agent"`
	LogLevel      string        `mapstructure:"log_level"`
	LogFormat     string        `mapstructure:"log_format"`
	BlockMarker   string        `mapstructure:"block_marker"`
}

type ProxyConfig struct {
	URL string `mapstructure:"url"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	// ConfigFile 是实际读取的配置文件（未读取时为空）。
	ConfigFile string

	Input         string
	InputSheet    string
	InputEncoding string

	Variant    string
	OutDir     string
	FilePrefix string

	Headless      bool
	MaxAttempts   int
	RetryPause    time.Duration
	ResultTimeout time.Duration
	NavTimeout    time.Duration
	ActionTimeout time.Duration
	StrictFill    bool
	KeepPages     bool
	Report        bool

	ProxyURL    string
	UserAgent   string
	BlockMarker string

	LogLevel  string
	LogFormat string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeMissingInput:
		return fmt.Sprintf("%s：未指定输入文件（命令行参数或配置项 input）", e.Code)
	case ErrCodeInvalid:
		if e.Path == "" {
			return fmt.Sprintf("%s：配置无效：%v", e.Code, e.Err)
		}
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：必须存在
// 2) 否则在 cwd 下查找 skymiles.yaml/yml/json/toml（可选）
// 3) cwd 下的 .env 会被读取，但不会覆盖真实环境变量
//
// 覆盖优先级（固定）：CLI > 环境变量（SKYMILES_*）> .env > 配置文件 > 默认值。
// 相对路径（input/out_dir）以 cwd 为基准。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	v := newViper()

	cfgPath := ""
	if p := strings.TrimSpace(cli.ConfigPath); p != "" {
		cfgPath = absCleanFrom(cwdAbs, p)
		if _, err := os.Stat(cfgPath); err != nil {
			if os.IsNotExist(err) {
				return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
			}
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		v.SetConfigFile(cfgPath)
		if err := v.ReadInConfig(); err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(cwdAbs)
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if !errors.As(err, &nf) {
				return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: v.ConfigFileUsed(), Err: err}
			}
		} else {
			cfgPath = v.ConfigFileUsed()
		}
	}

	if err := applyDotEnv(v, filepath.Join(cwdAbs, ".env")); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: filepath.Join(cwdAbs, ".env"), Err: err}
	}

	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	return merge(cwdAbs, cli, fc, cfgPath)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("input", "")
	v.SetDefault("input_sheet", "")
	v.SetDefault("input_encoding", "utf-8")
	v.SetDefault("variant", DefaultVariant)
	v.SetDefault("out_dir", DefaultOutDir)
	v.SetDefault("file_prefix", DefaultFilePrefix)
	v.SetDefault("headless", true)
	v.SetDefault("max_attempts", DefaultMaxAttempts)
	v.SetDefault("retry_pause", DefaultRetryPause)
	v.SetDefault("result_timeout", DefaultResultTimeout)
	v.SetDefault("nav_timeout", DefaultNavTimeout)
	v.SetDefault("action_timeout", DefaultActionTimeout)
	v.SetDefault("strict_fill", false)
	v.SetDefault("keep_pages", false)
	v.SetDefault("report", false)
	v.SetDefault("proxy.url", "")
	v.SetDefault("user_agent", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("block_marker", "")

	// 环境变量：SKYMILES_RESULT_TIMEOUT、SKYMILES_PROXY_URL ...
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// applyDotEnv 把 .env 中的 SKYMILES_* 写入 viper（不修改进程环境变量）。
// 真实环境变量已存在时跳过，保证“环境变量 > .env”。
func applyDotEnv(v *viper.Viper, path string) error {
	vals, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	prefix := EnvPrefix + "_"
	for k, val := range vals {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if _, ok := os.LookupEnv(k); ok {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(k, prefix))
		if key == "proxy_url" {
			key = "proxy.url"
		}
		v.Set(key, val)
	}
	return nil
}

func merge(cwd string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(format string, args ...any) error {
		return &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf(format, args...)}
	}

	input := strings.TrimSpace(fc.Input)
	if s := strings.TrimSpace(cli.Input); s != "" {
		input = s
	}
	if input == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingInput, Path: cfgPath}
	}

	variant := strings.TrimSpace(fc.Variant)
	if cli.VariantSet {
		variant = strings.TrimSpace(cli.Variant)
	}
	if variant == "" {
		return EffectiveConfig{}, invalid("variant 不能为空")
	}

	outDir := fc.OutDir
	if cli.OutDirSet {
		outDir = cli.OutDir
	}
	if strings.TrimSpace(outDir) == "" {
		outDir = DefaultOutDir
	}

	headless := fc.Headless
	if cli.HeadlessSet {
		headless = cli.Headless
	}

	attempts := fc.MaxAttempts
	if cli.MaxAttemptsSet {
		attempts = cli.MaxAttempts
	}
	if attempts == 0 {
		attempts = DefaultMaxAttempts
	}
	// 范围 [1, 10]；超出截断。
	if attempts < 1 {
		attempts = 1
	}
	if attempts > maxAttemptsCap {
		attempts = maxAttemptsCap
	}

	resultTimeout := fc.ResultTimeout
	if cli.ResultTimeoutSet {
		resultTimeout = cli.ResultTimeout
	}
	if resultTimeout <= 0 {
		return EffectiveConfig{}, invalid("result_timeout 必须为正数，实际 %s", resultTimeout)
	}
	if fc.NavTimeout <= 0 {
		return EffectiveConfig{}, invalid("nav_timeout 必须为正数，实际 %s", fc.NavTimeout)
	}
	if fc.ActionTimeout <= 0 {
		return EffectiveConfig{}, invalid("action_timeout 必须为正数，实际 %s", fc.ActionTimeout)
	}
	if fc.RetryPause < 0 {
		return EffectiveConfig{}, invalid("retry_pause 不能为负，实际 %s", fc.RetryPause)
	}

	strict := fc.StrictFill
	if cli.StrictFillSet {
		strict = cli.StrictFill
	}
	keep := fc.KeepPages
	if cli.KeepPagesSet {
		keep = cli.KeepPages
	}
	report := fc.Report
	if cli.ReportSet {
		report = cli.Report
	}

	proxyURL := strings.TrimSpace(fc.Proxy.URL)
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil || u.Host == "" {
			return EffectiveConfig{}, invalid("proxy.url 无效：%q", proxyURL)
		}
	}

	logLevel := strings.ToLower(strings.TrimSpace(fc.LogLevel))
	if cli.LogLevelSet {
		logLevel = strings.ToLower(strings.TrimSpace(cli.LogLevel))
	}
	switch logLevel {
	case "debug", "info", "warn", "error":
	default:
		return EffectiveConfig{}, invalid("log_level 只能是 debug/info/warn/error，实际 %q", logLevel)
	}
	logFormat := strings.ToLower(strings.TrimSpace(fc.LogFormat))
	switch logFormat {
	case "text", "json":
	default:
		return EffectiveConfig{}, invalid("log_format 只能是 text/json，实际 %q", logFormat)
	}

	enc := strings.ToLower(strings.TrimSpace(fc.InputEncoding))
	switch enc {
	case "", "utf-8", "utf8", "windows-1252", "cp1252", "windows-1251", "cp1251":
	default:
		return EffectiveConfig{}, invalid("input_encoding 不支持：%q", fc.InputEncoding)
	}

	prefix := strings.TrimSpace(fc.FilePrefix)
	if prefix == "" {
		prefix = DefaultFilePrefix
	}
	if strings.ContainsAny(prefix, `/\`) {
		return EffectiveConfig{}, invalid("file_prefix 不能包含路径分隔符：%q", prefix)
	}

	return EffectiveConfig{
		ConfigFile:    cfgPath,
		Input:         absCleanFrom(cwd, input),
		InputSheet:    strings.TrimSpace(fc.InputSheet),
		InputEncoding: enc,
		Variant:       strings.ToLower(variant),
		OutDir:        absCleanFrom(cwd, outDir),
		FilePrefix:    prefix,
		Headless:      headless,
		MaxAttempts:   attempts,
		RetryPause:    fc.RetryPause,
		ResultTimeout: resultTimeout,
		NavTimeout:    fc.NavTimeout,
		ActionTimeout: fc.ActionTimeout,
		StrictFill:    strict,
		KeepPages:     keep,
		Report:        report,
		ProxyURL:      proxyURL,
		UserAgent:     strings.TrimSpace(fc.UserAgent),
		BlockMarker:   strings.TrimSpace(fc.BlockMarker),
		LogLevel:      logLevel,
		LogFormat:     logFormat,
	}, nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
// - p 若已是绝对路径：直接 Clean
// - p 若是相对路径：Join(base, p) 后 Clean
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if p == "" {
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

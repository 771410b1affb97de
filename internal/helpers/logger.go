package helpers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarning
	LevelError
)

var levelNames = map[LogLevel]string{
	LevelDebug:   "DEBUG",
	LevelInfo:    "INFO",
	LevelWarning: "WARNING",
	LevelError:   "ERROR",
}

func ParseLogLevel(s string) (LogLevel, bool) {
	for lv, name := range levelNames {
		if name == strings.ToUpper(s) {
			return lv, true
		}
	}
	return LevelInfo, false
}

// LogRecord 一条结构化日志，category用于前端按子系统过滤
type LogRecord struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Message   string `json:"message"`
}

// LogHub 把日志记录实时转发给所有订阅者（WebSocket消费）。
// 订阅者通道写满时直接丢弃该条，日志流允许有损。
type LogHub struct {
	mu   sync.RWMutex
	subs map[chan LogRecord]struct{}
}

func NewLogHub() *LogHub {
	return &LogHub{subs: make(map[chan LogRecord]struct{})}
}

func (h *LogHub) Subscribe() chan LogRecord {
	ch := make(chan LogRecord, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *LogHub) Unsubscribe(ch chan LogRecord) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *LogHub) publish(rec LogRecord) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- rec:
		default:
		}
	}
}

var LogStream = NewLogHub()

// Logger 写滚动日志文件，可选镜像到控制台和LogStream
type Logger struct {
	mu        sync.Mutex
	level     LogLevel
	file      *lumberjack.Logger
	console   bool
	broadcast bool
	category  string
}

var AppLogger *Logger

const defaultCategory = "系统"

func NewLogger(logFile string, console bool, broadcast bool) (*Logger, error) {
	if !filepath.IsAbs(logFile) {
		logFile = filepath.Join(ConfigDir, logFile)
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
		return nil, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return &Logger{
		level: LevelDebug,
		file: &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     14,
			Compress:   false,
		},
		console:   console,
		broadcast: broadcast,
		category:  defaultCategory,
	}, nil
}

// Cat 返回绑定了分类标签的日志器，共享底层文件
func (l *Logger) Cat(category string) *Logger {
	return &Logger{
		level:     l.level,
		file:      l.file,
		console:   l.console,
		broadcast: l.broadcast,
		category:  category,
	}
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
}

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	ts := time.Now().Format("2006-01-02 15:04:05")
	line := fmt.Sprintf("%s [%s] [%s] %s\n", ts, levelNames[level], l.category, msg)
	l.mu.Lock()
	l.file.Write([]byte(line))
	l.mu.Unlock()
	if l.console {
		os.Stdout.WriteString(line)
	}
	if l.broadcast {
		LogStream.publish(LogRecord{
			Timestamp: ts,
			Level:     levelNames[level],
			Category:  l.category,
			Message:   msg,
		})
	}
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(LevelWarning, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LevelError, format, args...) }

func (l *Logger) Debug(msg string) { l.log(LevelDebug, "%s", msg) }
func (l *Logger) Info(msg string)  { l.log(LevelInfo, "%s", msg) }
func (l *Logger) Warn(msg string)  { l.log(LevelWarning, "%s", msg) }
func (l *Logger) Error(msg string) { l.log(LevelError, "%s", msg) }

func CloseLogger() {
	if AppLogger != nil && AppLogger.file != nil {
		AppLogger.file.Close()
	}
}

var logLinePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}) \[(\w+)\] \[([^\]]*)\] (.*)$`)

// QueryLogRecords 从当前日志文件按级别/分类过滤并分页读取，最新的在前
func (l *Logger) QueryLogRecords(level string, category string, page int, pageSize int) ([]LogRecord, int, error) {
	f, err := os.Open(l.file.Filename)
	if err != nil {
		if os.IsNotExist(err) {
			return []LogRecord{}, 0, nil
		}
		return nil, 0, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, 0, err
	}
	var records []LogRecord
	for _, line := range strings.Split(string(data), "\n") {
		m := logLinePattern.FindStringSubmatch(line)
		if m == nil {
			// 续行归并到上一条
			if len(records) > 0 && line != "" {
				records[len(records)-1].Message += "\n" + line
			}
			continue
		}
		rec := LogRecord{Timestamp: m[1], Level: m[2], Category: m[3], Message: m[4]}
		if level != "" && !strings.EqualFold(rec.Level, level) {
			continue
		}
		if category != "" && rec.Category != category {
			continue
		}
		records = append(records, rec)
	}
	// 倒序，最新在前
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	total := len(records)
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	start := (page - 1) * pageSize
	if start >= total {
		return []LogRecord{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return records[start:end], total, nil
}

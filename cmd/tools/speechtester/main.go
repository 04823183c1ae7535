package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/guardian/backend/internal/analysis/intent"
	"github.com/zhouzirui/guardian/backend/internal/config"
	"github.com/zhouzirui/guardian/backend/internal/service/speech"
)

// speechtester sends one recorded utterance to the ASR service and shows how
// the assistant would classify the transcript.
func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}
	if !cfg.Speech.Enabled {
		log.Fatal("语音服务未启用，请先在环境变量中配置 SPEECH_APP_ID 与 SPEECH_ACCESS_TOKEN")
	}

	audioPath := flag.String("audio", "", "input audio file (16 kHz, 16 bit, mono)")
	format := flag.String("format", "", "audio format, inferred from the file extension when empty")
	language := flag.String("lang", "", "recognition locale, defaults to SPEECH_ASR_LANGUAGE")
	timeout := flag.Duration("timeout", 45*time.Second, "request timeout")
	flag.Parse()

	if *audioPath == "" {
		flag.Usage()
		log.Fatal("-audio is required")
	}

	audio, err := os.ReadFile(*audioPath)
	if err != nil {
		log.Fatalf("打开音频文件失败: %v", err)
	}

	if *format == "" {
		*format = strings.TrimPrefix(strings.ToLower(filepath.Ext(*audioPath)), ".")
	}
	if *language == "" {
		*language = cfg.Speech.ASRLanguage
	}

	rec, err := speech.NewRecognizer(speech.Config{
		AppID:       cfg.Speech.AppID,
		AccessToken: cfg.Speech.AccessToken,
		Endpoint:    cfg.Speech.BaseURL,
		Model:       cfg.Speech.ASRModel,
		Timeout:     *timeout,
	})
	if err != nil {
		log.Fatalf("recognizer init failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	log.Printf("ASR start: file=%s bytes=%d format=%s language=%s", *audioPath, len(audio), *format, *language)
	started := time.Now()
	text, err := rec.Recognize(ctx, audio, *format, *language)
	if err != nil {
		log.Fatalf("ASR 调用失败: %v", err)
	}
	log.Printf("ASR ok in %s: text=%q", time.Since(started).Round(time.Millisecond), text)

	result := intent.Classify(text)
	log.Printf("intent=%s commands=%v", result.Intent, result.Commands)
	log.Printf("reply=%q", result.Response)
}

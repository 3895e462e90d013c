package middleware

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"
)

// BannerInfo datos del arranque que muestra el banner
type BannerInfo struct {
	Port        string
	Store       string
	RedisStatus string
	FeedChannel string
}

// ServerInfo muestra información del servidor al iniciar
func ServerInfo(info BannerInfo, logger *zap.Logger) {
	hostname, _ := os.Hostname()
	goVersion := runtime.Version()
	numCPU := runtime.NumCPU()
	startTime := time.Now().Format("2006-01-02 15:04:05")
	base := "http://localhost:" + info.Port

	fmt.Println("")
	fmt.Println("🚀 " + boldColor + "Stock Ledger API" + resetColor)
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println("📅 Started at: " + startTime)
	fmt.Println("🌐 Server URL: " + cyanColor + base + resetColor)
	fmt.Println("💻 Hostname: " + hostname)
	fmt.Println("🔧 Go Version: " + goVersion)
	fmt.Println("⚡ CPU Cores: " + fmt.Sprintf("%d", numCPU))
	fmt.Println("")
	fmt.Println("📊 " + boldColor + "Available Endpoints:" + resetColor)
	fmt.Println("   POST " + greenColor + "/api/v1/materials" + resetColor + "                   - Registrar material")
	fmt.Println("   POST " + greenColor + "/api/v1/stock/movements" + resetColor + "             - Registrar movimiento")
	fmt.Println("   GET  " + greenColor + "/api/v1/stock/:material" + resetColor + "             - Stock y costo promedio")
	fmt.Println("   GET  " + greenColor + "/api/v1/stock/:material/movements" + resetColor + "   - Historial")
	fmt.Println("   POST " + greenColor + "/api/v1/work-orders/:id/complete" + resetColor + "    - Completar orden de trabajo")
	fmt.Println("   POST " + greenColor + "/api/v1/purchases/:id/receive" + resetColor + "       - Recibir compra")
	fmt.Println("")
	fmt.Println("🔍 " + boldColor + "Monitoring:" + resetColor)
	fmt.Println("   📈 Health Check: " + cyanColor + base + "/health" + resetColor)
	fmt.Println("   📊 Metrics: " + cyanColor + base + "/api/v1/monitoring/metrics" + resetColor)
	fmt.Println("   📡 Feed: " + cyanColor + "ws://localhost:" + info.Port + "/api/v1/stock/feed" + resetColor)
	fmt.Println("")
	fmt.Println("⚙️  " + boldColor + "Environment:" + resetColor)
	fmt.Println("   🗄️  Store: " + info.Store)
	fmt.Println("   🗃️  Redis: " + info.RedisStatus)
	if info.FeedChannel != "" {
		fmt.Println("   📡 Feed channel: " + info.FeedChannel)
	}
	fmt.Println("   📝 Logging: Structured (Zap)")
	fmt.Println("")
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println("✨ " + boldColor + "Server is ready to handle requests!" + resetColor)
	fmt.Println("")

	logger.Info("Server started successfully",
		zap.String("port", info.Port),
		zap.String("store", info.Store),
		zap.String("redis", info.RedisStatus),
		zap.String("hostname", hostname),
		zap.String("go_version", goVersion),
		zap.Int("cpu_cores", numCPU),
		zap.String("start_time", startTime),
	)
}

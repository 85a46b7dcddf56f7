package initial

import (
	"fmt"
	"log"
	"os"
	"time"

	"VnStockRAG/internal/config"
	"VnStockRAG/internal/modules/rag/domain/news"
	"VnStockRAG/pkg/zlog"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var GormDB *gorm.DB

func init() {
	conf := config.GetConfig()
	dbName := conf.MysqlConfig.DatabaseName
	if dbName == "" {
		dbName = conf.AppName
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		conf.MysqlConfig.User, conf.MysqlConfig.Password,
		conf.MysqlConfig.Host, conf.MysqlConfig.Port, dbName)

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var err error
	GormDB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		zlog.Fatal(err.Error())
	}

	if err := GormDB.AutoMigrate(&news.Document{}); err != nil {
		zlog.Fatal(err.Error())
	}
}

package main

import (
	"context"
	"fmt"
	"os"

	"casedata-engine/common/config"
	"casedata-engine/common/database"
)

func main() {
	// 加载配置
	cfg := &config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "casedata",
		SSLMode:  "disable",
	}
	cfg.LoadFromEnv("DB")

	// 连接数据库
	db, err := database.NewPostgresDB(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// 读取 SQL 文件
	sqlFile := config.GetEnv("SCHEMA_FILE", "db/schema.sql")
	sqlBytes, err := os.ReadFile(sqlFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read SQL file: %v\n", err)
		os.Exit(1)
	}

	// 执行 SQL
	if _, err := db.Exec(string(sqlBytes)); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to execute SQL: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("schema applied: %s\n", sqlFile)
}

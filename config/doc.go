// Package config 提供编排引擎的配置管理。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，
// 环境变量键名由前缀、段名和字段名拼接而成，例如
// ORCHESTRATOR_ORCHESTRATOR_STALE_THRESHOLD=45m。
package config

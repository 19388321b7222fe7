// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package config 提供生成流水线的配置管理功能。

# 概述

config 包负责 PipelineConfig 的完整生命周期管理，包括多源加载、
运行时热重载与变更审计。配置按
"默认值 -> YAML 文件 -> 环境变量" 的优先级合并。

# 核心结构

  - PipelineConfig: 顶层配置聚合，涵盖 Server、Providers（后端凭据与
    失败转移顺序）、Orchestrator（扇出并发与任务期限）、RateLimit、
    ConvLog（会话日志保留期）、Redis、Log、Telemetry
  - Loader: 配置加载器，支持 Builder 模式链式设置
    文件路径、环境变量前缀与自定义验证器
  - HotReloadManager: 热重载管理器，支持文件监听、
    局部字段更新、变更回调与版本化历史
  - FileWatcher: 文件变更监听器，基于轮询 + 去抖机制
    触发配置重载
  - ConfigAPIHandler: 可选的 HTTP 管理端点，供运维在不重启进程的
    情况下查看与调整可热重载字段

# 主要能力

  - 多源加载: YAML 文件、环境变量（PIPELINE_ 前缀）、默认值
  - 热重载: 文件监听自动重载 + API 手动触发，支持字段级更新
  - 安全治理: 敏感字段脱敏（API Key、密码）
  - 变更审计: 环形缓冲历史记录

# 使用示例

	cfg, err := config.NewLoader().
		WithConfigPath("config.yaml").
		WithEnvPrefix("PIPELINE").
		Load()
*/
package config

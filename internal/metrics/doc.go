// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的生成流水线指标采集能力，覆盖
任务生命周期、Provider Gateway 调用与准入控制三大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - 任务指标：提交总数、终态计数（succeeded/failed/canceled）、
    端到端耗时，按 kind（article/book）分组；队列深度 Gauge。
  - Provider Gateway 指标：调用总数、调用耗时、Token 用量
    （prompt/completion），按 backend/model 分组；全局并发 Gauge。
  - 准入控制指标：Rate Limiter 放行/拒绝计数，按 endpoint_class 分组。
*/
package metrics

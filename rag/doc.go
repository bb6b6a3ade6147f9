/*
Package rag 实现混合检索与纠偏问答的核心编排。

# 概述

一次查询的生命周期：

	缓存查找 → [检索 → 评估 → 改写]* → 生成 → 缓存写入

HybridFuser 并行执行向量最近邻与图谱遍历两条分支，按
score = α·vectorSim + (1-α)·graphRelevance 融合、去重、裁剪成
ContextBundle。Evaluator 给 bundle 打充分性分；低于达标线时
Controller 驱动 Reformulator 改写查询再试，至多 MaxRetries 轮。
重试耗尽时带历次最佳 bundle 以 Exhausted 终态退出并标记低置信；
调用方取消以 Aborted 终态退出，不报 error。

# 失败语义

后端不可达、评估输出不可解析、单次调用超时都是软失败：
分支降级为空结果、评估按 0 分处理，查询继续推进。
维度不一致、图查询构造错误、非法配置是致命错误，立即返回。

# 装配

NewPipelineFromConfig 按 config.Config 装配全部组件；
测试与嵌入式使用可通过各组件构造函数手工组装。
*/
package rag

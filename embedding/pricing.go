package embedding

// modelPricing 每 100 万 token 的美元单价。
var modelPricing = map[string]float64{
	"text-embedding-3-large": 0.13,
	"text-embedding-3-small": 0.02,
	"text-embedding-ada-002": 0.10,
}

// CostFor 按模型单价估算 token 消耗的美元成本，未知模型返回 0。
func CostFor(model string, totalTokens int) float64 {
	price, ok := modelPricing[model]
	if !ok {
		return 0
	}
	return price * float64(totalTokens) / 1e6
}

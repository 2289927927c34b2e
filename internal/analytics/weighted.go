package analytics

// Sample хранит значение, уже усредненное бэкендом по Count звонков.
type Sample struct {
	Value float64
	Count int64
}

// WeightedMean = Σ(value*count) / Σ(count). При Σ(count) = 0 результат 0.
// Простое среднее по строкам не используется: маленькие корзины не должны весить как большие.
func WeightedMean(samples []Sample) float64 {
	var acc Accumulator
	for _, s := range samples {
		acc.Add(s.Value, s.Count)
	}
	return acc.Mean()
}

// Accumulator копит взвешенную сумму инкрементально (для группировок в один проход).
type Accumulator struct {
	sum   float64
	count int64
}

// Add учитывает значение с весом count. Неположительный вес игнорируется.
func (a *Accumulator) Add(value float64, count int64) {
	if count <= 0 {
		return
	}
	a.sum += value * float64(count)
	a.count += count
}

func (a *Accumulator) Merge(b Accumulator) {
	a.sum += b.sum
	a.count += b.count
}

func (a Accumulator) Mean() float64 {
	if a.count == 0 {
		return 0
	}
	return a.sum / float64(a.count)
}

func (a Accumulator) Count() int64 { return a.count }

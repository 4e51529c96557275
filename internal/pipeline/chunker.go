package pipeline

import "sort"

// ChunkOptions 控制分块行为。
type ChunkOptions struct {
	ChunkSize    int
	ChunkOverlap int
	MinChunkSize int
	ContentType  string
}

// Chunk 将文本切分为有序的、可重叠的分块。
// 优先在结构边界（空行，Markdown 还包括标题行）处收尾，ChunkSize 是硬上限；
// 相邻分块重叠 ChunkOverlap 个字符；结尾不足 MinChunkSize 的片段并入前一块。
// 同样的输入和参数总是产生同样的分块，幂等重建索引依赖这一点。
func Chunk(text string, opts ChunkOptions) []string {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	size := opts.ChunkSize
	if size <= 0 {
		size = 1000
	}
	overlap := opts.ChunkOverlap
	if overlap < 0 || overlap >= size {
		// 无效的重叠参数退化为不重叠切分
		overlap = 0
	}
	minSize := opts.MinChunkSize
	if minSize < 0 {
		minSize = 0
	}

	// 整体不足 MinChunkSize 时原样作为唯一分块返回
	if n <= minSize || n <= size {
		return []string{string(runes)}
	}

	bounds := structuralBoundaries(runes, opts.ContentType)

	var chunks []string
	var starts []int
	start := 0
	for {
		end := start + size
		if end >= n {
			break
		}
		// 在 (start+overlap, start+size] 范围内找最靠后的结构边界，
		// 且不产生短于 MinChunkSize 的分块
		lower := start + overlap + 1
		if start+minSize > lower {
			lower = start + minSize
		}
		if cut, ok := lastBoundaryIn(bounds, lower, end); ok {
			end = cut
		}
		chunks = append(chunks, string(runes[start:end]))
		starts = append(starts, start)

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}

	// 收尾：不足 MinChunkSize 的尾段并入前一块
	if n-start < minSize && len(chunks) > 0 {
		last := len(chunks) - 1
		chunks[last] = string(runes[starts[last]:n])
	} else {
		chunks = append(chunks, string(runes[start:n]))
	}

	return chunks
}

// structuralBoundaries 返回按升序排列的候选切分位置（rune 下标，作为分块的开区间右端）。
// 空行之后是所有内容类型共有的边界；Markdown 额外把标题行的行首视为边界。
func structuralBoundaries(runes []rune, contentType string) []int {
	var bounds []int
	for i := 0; i+1 < len(runes); i++ {
		if runes[i] == '\n' && runes[i+1] == '\n' {
			// 切在空行之后，让空行留在前一块
			bounds = append(bounds, i+2)
		}
		if contentType == ContentTypeMarkdown && runes[i] == '\n' && runes[i+1] == '#' {
			bounds = append(bounds, i+1)
		}
	}
	sort.Ints(bounds)
	return bounds
}

// lastBoundaryIn 在 [lower, upper] 范围内找最靠后的边界。
func lastBoundaryIn(bounds []int, lower, upper int) (int, bool) {
	// 第一个大于 upper 的位置，其前一个即候选
	i := sort.SearchInts(bounds, upper+1) - 1
	if i >= 0 && bounds[i] >= lower {
		return bounds[i], true
	}
	return 0, false
}

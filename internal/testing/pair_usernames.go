package testing

// PairUsernames splits single usernames slice into several pairs where first one is the first provided
// username e.g. [a, b, c, d] -> [[a,b], [a,c], [a,d]]
func PairUsernames(usernames []string) [][]string {
	pairs := make([][]string, 0, len(usernames)-1)
	for i := 1; i < len(usernames); i++ {
		pairs = append(pairs, []string{usernames[0], usernames[i]})
	}

	return pairs
}

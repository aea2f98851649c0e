package chain

// Chain represents an append only sequence of blocks owned by a single
// process. It is not safe for concurrent use.
type Chain struct {
	blocks []Block
	head   int
	tail   int
}

// New constructs an empty chain.
func New() *Chain {
	return &Chain{
		head: none,
		tail: none,
	}
}

// Append adds a new block to the end of the chain and returns it. The
// target is the solution of the previous block when that block was
// accepted, otherwise the seed. Wallets are carried over from the previous
// block. The returned pointer is valid until the next Append or Discard.
func (c *Chain) Append(seed int64) *Block {
	b := Block{
		ID:       1,
		Target:   seed,
		Solution: -1,
		Valid:    Unset,
		prev:     c.tail,
		next:     none,
	}

	if c.tail != none {
		prev := &c.blocks[c.tail]
		b.ID = prev.ID + 1
		b.Wallets = prev.Wallets
		if prev.Valid == Accepted {
			b.Target = prev.Solution
		}
	}

	c.blocks = append(c.blocks, b)
	idx := len(c.blocks) - 1

	if c.tail != none {
		c.blocks[c.tail].next = idx
	}
	if c.head == none {
		c.head = idx
	}
	c.tail = idx

	return &c.blocks[idx]
}

// Discard removes the last block, used when a round ends without an
// accepted solution.
func (c *Chain) Discard() {
	if c.tail == none {
		return
	}

	prev := c.blocks[c.tail].prev
	c.blocks = c.blocks[:c.tail]

	c.tail = prev
	if prev == none {
		c.head = none
		return
	}
	c.blocks[prev].next = none
}

// Tail returns the last block in the chain.
func (c *Chain) Tail() (*Block, bool) {
	if c.tail == none {
		return nil, false
	}
	return &c.blocks[c.tail], true
}

// Prev returns the block linked before the specified block.
func (c *Chain) Prev(b *Block) (*Block, bool) {
	if b.prev == none {
		return nil, false
	}
	return &c.blocks[b.prev], true
}

// Len returns the number of blocks in the chain.
func (c *Chain) Len() int {
	return len(c.blocks)
}

// Blocks returns a copy of the chain from head to tail.
func (c *Chain) Blocks() []Block {
	blocks := make([]Block, 0, len(c.blocks))
	for i := c.head; i != none; i = c.blocks[i].next {
		blocks = append(blocks, c.blocks[i])
	}
	return blocks
}

// Destroy walks the chain from tail to head releasing every block and
// returns how many were released.
func (c *Chain) Destroy() int {
	var n int
	for i := c.tail; i != none; {
		prev := c.blocks[i].prev
		c.blocks[i] = Block{}
		i = prev
		n++
	}

	c.blocks = nil
	c.head = none
	c.tail = none

	return n
}

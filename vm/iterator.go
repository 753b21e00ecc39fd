package vm

// ---------------------------------------------------------------------------
// Iterator protocol
// ---------------------------------------------------------------------------

// handleGetIterator consumes the collection and opens an iterator frame over
// it. The value stays GC-rooted until the frame closes.
func (m *VM) handleGetIterator() error {
	value, err := m.popValue()
	if err != nil {
		return err
	}
	m.GC.AddRoot(value)
	m.iterators = append(m.iterators, iteratorFrame{value: value})
	return nil
}

// handleHasNextElement pushes whether the innermost iterator has elements
// left.
func (m *VM) handleHasNextElement() error {
	if len(m.iterators) == 0 {
		return Errorf("no iterator on stack")
	}
	it := &m.iterators[len(m.iterators)-1]

	hasNext := false
	switch {
	case it.value.IsArray():
		hasNext = it.index < len(it.value.Arr)
	case it.value.IsString():
		hasNext = it.index < len(it.value.S)
	case it.value.IsStruct():
		hasNext = it.index < it.value.Str.Len()
	default:
		return Errorf("invalid iterable type")
	}

	m.pushNewConstant(NewBool(hasNext))
	return nil
}

// handleNextElement pushes the next element: the shared element reference for
// arrays, a Char for strings, and a fresh default::Entry{key, value} for
// structs (value sharing the field's variable). An exhausted iterator closes
// its frame and releases the root.
func (m *VM) handleNextElement() error {
	if len(m.iterators) == 0 {
		return Errorf("no iterator on stack")
	}
	it := &m.iterators[len(m.iterators)-1]

	closeFrame := func() {
		m.GC.RemoveRoot(it.value)
		m.iterators = m.iterators[:len(m.iterators)-1]
	}

	switch {
	case it.value.IsArray():
		if it.index >= len(it.value.Arr) {
			closeFrame()
			return nil
		}
		elem, err := it.value.Item(int64(it.index), false)
		if err != nil {
			return err
		}
		it.index++
		m.pushConstant(elem)

	case it.value.IsString():
		if it.index >= len(it.value.S) {
			closeFrame()
			return nil
		}
		c := it.value.S[it.index]
		it.index++
		m.pushNewConstant(NewChar(c))

	case it.value.IsStruct():
		if it.index >= it.value.Str.Len() {
			closeFrame()
			return nil
		}
		name := it.value.Str.Names()[it.index]
		fieldVar := it.value.Str.Find(name)
		it.index++

		keyVar := m.GC.AllocateVariable(NewVariable(FieldKey, NewTypeDef(TypeString)))
		keyVar.Set(m.GC.Allocate(NewString(name)))

		entry := NewStructValue()
		entry.Declare(FieldKey, keyVar)
		entry.Declare(FieldValue, fieldVar)

		m.pushNewConstant(NewStruct(entry, DefaultNameSpace, StructEntry))

	default:
		return Errorf("invalid iterable type")
	}
	return nil
}
